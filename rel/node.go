// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package rel

import (
	"github.com/tabuladb/tabula/head"
)

// Node is one operator in a statement's expression tree. Each variant
// is a distinct Go type; there is no per-node function-pointer vtable,
// just the Eval interface dispatch.
//
// A node's Head is fixed at construction time (it is pure schema
// algebra and needs no data); Eval recursively drives children and
// produces a fresh *Relation every call, draining and discarding the
// children's bodies as it goes.
type Node interface {
	Head() head.Head
	Eval(ctx *Eval) (*Relation, error)
}
