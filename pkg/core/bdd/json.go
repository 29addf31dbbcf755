// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package bdd

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"io"
	"os"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaSource string

const schemaURL = "https://synapse/decision-diagram.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// Schema returns the compiled JSON schema serialized diagrams are validated against.
func Schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader([]byte(schemaSource))); err != nil {
			schemaErr = errors.Wrap(err, "failed to add decision diagram schema")
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = errors.Wrap(schemaErr, "failed to compile decision diagram schema")
		}
	})
	return compiledSchema, schemaErr
}

type diagramJSON struct {
	Root    NodeID             `json:"root"`
	Nodes   []*nodeJSON        `json:"nodes"`
	Profile map[NodeID]float64 `json:"profile,omitempty"`
}

type nodeJSON struct {
	ID   NodeID `json:"id"`
	Kind string `json:"kind"`

	Condition *Expr   `json:"condition,omitempty"`
	OnTrue    *NodeID `json:"on_true,omitempty"`
	OnFalse   *NodeID `json:"on_false,omitempty"`

	Function  string           `json:"function,omitempty"`
	Args      map[string]*Expr `json:"args,omitempty"`
	Generated []string         `json:"generated,omitempty"`
	Next      *NodeID          `json:"next,omitempty"`

	Result string `json:"result,omitempty"`
	Op     string `json:"op,omitempty"`
	Port   *int   `json:"port,omitempty"`
}

// LoadFile reads a diagram from a JSON file. See Load.
func LoadFile(path string) (*Diagram, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open decision diagram %q", path)
	}
	defer func() { _ = f.Close() }()
	d, err := Load(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "while loading %q", path)
	}
	return d, nil
}

// Load reads a diagram in JSON format. The input is first validated against Schema,
// and the decoded diagram is then checked with Diagram.Validate.
//
// Structural problems are reported with errors wrapping ErrMalformed.
func Load(r io.Reader) (*Diagram, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read decision diagram")
	}
	schema, err := Schema()
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "invalid JSON: %v", err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "schema validation failed: %v", err)
	}
	var dj diagramJSON
	if err := json.Unmarshal(raw, &dj); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "failed to decode: %v", err)
	}
	return dj.build()
}

func (dj *diagramJSON) build() (*Diagram, error) {
	d := New()
	for _, nj := range dj.Nodes {
		if d.Has(nj.ID) {
			return nil, errors.Wrapf(ErrMalformed, "duplicate node id #%d", nj.ID)
		}
		kind, err := ParseKind(nj.Kind)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformed, "node #%d: %v", nj.ID, err)
		}
		n := d.add(nj.ID, kind)
		switch kind {
		case KindBranch:
			n.Condition = nj.Condition
		case KindCall:
			n.Call = &Call{Function: nj.Function, Args: nj.Args, Generated: nj.Generated}
			if n.Call.Args == nil {
				n.Call.Args = make(map[string]*Expr)
			}
		case KindReturnInit:
			if nj.Result == "failure" {
				n.Init = InitFailure
			}
		case KindReturnProcess:
			if n.Op, err = ParseProcessOp(nj.Op); err != nil {
				return nil, errors.Wrapf(ErrMalformed, "node #%d: %v", nj.ID, err)
			}
			if nj.Port != nil {
				n.Port = *nj.Port
			}
		}
	}

	link := func(parent NodeID, child *NodeID) (NodeID, error) {
		if child == nil {
			return InvalidNodeID, nil
		}
		c := d.nodes[*child]
		if c == nil {
			return InvalidNodeID, errors.Wrapf(ErrMalformed, "node #%d points to unknown node #%d", parent, *child)
		}
		if c.Prev != InvalidNodeID {
			return InvalidNodeID, errors.Wrapf(ErrMalformed, "node #%d has two parents, #%d and #%d", *child, c.Prev, parent)
		}
		c.Prev = parent
		return *child, nil
	}
	for _, nj := range dj.Nodes {
		n := d.nodes[nj.ID]
		var err error
		switch n.Kind {
		case KindBranch:
			if n.OnTrue, err = link(n.ID, nj.OnTrue); err != nil {
				return nil, err
			}
			if n.OnFalse, err = link(n.ID, nj.OnFalse); err != nil {
				return nil, err
			}
		case KindCall:
			if n.Next, err = link(n.ID, nj.Next); err != nil {
				return nil, err
			}
		}
	}
	if !d.Has(dj.Root) {
		return nil, errors.Wrapf(ErrMalformed, "root #%d is not a node", dj.Root)
	}
	d.root = dj.Root
	for id, f := range dj.Profile {
		d.profile[id] = f
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Save writes the diagram in the JSON format read by Load.
func (d *Diagram) Save(w io.Writer) error {
	dj := diagramJSON{Root: d.root}
	if len(d.profile) > 0 {
		dj.Profile = d.profile
	}
	for _, id := range d.IDs() {
		n := d.nodes[id]
		nj := &nodeJSON{ID: id, Kind: n.Kind.String()}
		switch n.Kind {
		case KindBranch:
			nj.Condition = n.Condition
			nj.OnTrue, nj.OnFalse = optionalID(n.OnTrue), optionalID(n.OnFalse)
		case KindCall:
			nj.Function = n.Call.Function
			if len(n.Call.Args) > 0 {
				nj.Args = n.Call.Args
			}
			nj.Generated = slices.Clone(n.Call.Generated)
			nj.Next = optionalID(n.Next)
		case KindReturnInit:
			nj.Result = n.Init.String()
		case KindReturnProcess:
			nj.Op = n.Op.String()
			if n.Op == OpForward {
				port := n.Port
				nj.Port = &port
			}
		}
		dj.Nodes = append(dj.Nodes, nj)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(&dj), "failed to encode decision diagram")
}

func optionalID(id NodeID) *NodeID {
	if id == InvalidNodeID {
		return nil
	}
	return &id
}
