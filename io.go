package forestseg

import (
	"encoding/json"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// checkpointFormat is incremented whenever the layout of checkpoints changes
const checkpointFormat = 1

type checkpoint struct {
	Format int               `json:"format"`
	Iter   int               `json:"iter"`
	Meta   map[string]string `json:"meta,omitempty"`
	Nodes  []savedNode       `json:"nodes"`
	Output string            `json:"output"`
	Cost   savedType         `json:"cost"`
}

type savedNode struct {
	Name   string          `json:"name"`
	Type   string          `json:"type,omitempty"`
	Dims   []int           `json:"dims,omitempty"`
	Inputs []string        `json:"inputs,omitempty"`
	Op     json.RawMessage `json:"op,omitempty"`
}

type savedType struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Save writes the architecture and weights of the Network to a single snappy-compressed JSON
// file at 'path'. The file is first written next to its destination and then renamed, so an
// interrupted Save never leaves a partial checkpoint behind. 'meta' is stored alongside and
// returned by Load.
func (net *Network) Save(fs afero.Fs, path string, meta map[string]string) error {
	if net.stat < finalized {
		return ErrNotFinalized
	}

	ck := checkpoint{
		Format: checkpointFormat,
		Iter:   net.iter,
		Meta:   meta,
		Output: net.output.name,
		Cost:   savedType{Type: net.cf.TypeString()},
	}

	if s, ok := net.cf.(Serializable); ok {
		b, err := json.Marshal(s.Get())
		if err != nil {
			return errors.Wrapf(err, "Failed to encode CostFunction %q", net.cf.TypeString())
		}
		ck.Cost.Value = b
	}

	for _, n := range net.nodesByID {
		sn := savedNode{Name: n.name}
		if n.IsInput() {
			sn.Dims = n.Dims()
		} else {
			sn.Type = n.op.TypeString()
			for _, in := range n.inputs {
				sn.Inputs = append(sn.Inputs, in.name)
			}

			b, err := json.Marshal(n.op.Get())
			if err != nil {
				return errors.Wrapf(err, "Failed to encode Operator of node %v", n)
			}
			sn.Op = b
		}

		ck.Nodes = append(ck.Nodes, sn)
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "Failed to create directory for %q", path)
	}

	tmp := path + ".tmp"
	f, err := fs.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "Failed to create file %q", tmp)
	}

	w := snappy.NewBufferedWriter(f)
	if err = json.NewEncoder(w).Encode(ck); err != nil {
		f.Close()
		return errors.Wrapf(err, "Failed to encode checkpoint to %q", tmp)
	} else if err = w.Close(); err != nil {
		f.Close()
		return errors.Wrapf(err, "Failed to flush %q", tmp)
	} else if err = f.Close(); err != nil {
		return errors.Wrapf(err, "Failed to close %q", tmp)
	}

	if err = fs.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "Failed to move checkpoint into place at %q", path)
	}

	return nil
}

// Load reads a Network written by Save. All of the Operator and CostFunction types used must be
// registered, which is done by importing their packages. The returned Network is finalized with
// its saved weights; Optimizers, Penalties and HyperParameters are not stored and should be set
// again with SetOptimizers before training further.
func Load(fs afero.Fs, path string) (*Network, map[string]string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "Failed to open checkpoint %q", path)
	}
	defer f.Close()

	var ck checkpoint
	if err = json.NewDecoder(snappy.NewReader(f)).Decode(&ck); err != nil {
		return nil, nil, errors.Wrapf(err, "Failed to decode checkpoint %q", path)
	} else if ck.Format != checkpointFormat {
		return nil, nil, errors.Errorf("Checkpoint %q has format %d, expected %d", path, ck.Format, checkpointFormat)
	}

	net := new(Network)
	for _, sn := range ck.Nodes {
		if len(sn.Inputs) == 0 {
			net.AddInput(sn.Name, sn.Dims...)
			continue
		}

		op, err := NewOperator(sn.Type)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "Can't load node %q", sn.Name)
		} else if err = json.Unmarshal(sn.Op, op.Blank()); err != nil {
			return nil, nil, errors.Wrapf(err, "Failed to decode Operator of node %q", sn.Name)
		}

		ins := make([]*Node, len(sn.Inputs))
		for i, name := range sn.Inputs {
			if ins[i] = net.Node(name); ins[i] == nil {
				return nil, nil, errors.Errorf("Can't load node %q, input %q does not exist before it", sn.Name, name)
			}
		}

		if n := net.Add(sn.Name, op, ins...); n != nil {
			n.loaded = true
		}
	}

	if net.err != nil {
		return nil, nil, errors.Wrapf(net.err, "Failed to rebuild Network from %q", path)
	}

	cf, err := NewCostFunction(ck.Cost.Type)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "Can't load checkpoint %q", path)
	}
	if s, ok := cf.(Serializable); ok && len(ck.Cost.Value) != 0 {
		if err = json.Unmarshal(ck.Cost.Value, s.Blank()); err != nil {
			return nil, nil, errors.Wrapf(err, "Failed to decode CostFunction %q", ck.Cost.Type)
		}
	}

	if err = net.Finalize(cf, net.Node(ck.Output)); err != nil {
		return nil, nil, errors.Wrapf(err, "Failed to finalize Network from %q", path)
	}

	net.iter = ck.Iter
	return net, ck.Meta, nil
}

// SetOptimizers gives every Node with weights a new Optimizer from 'f', along with the Penalty
// 'pen' (which may be nil). It is used after Load, since neither is stored in checkpoints.
func (net *Network) SetOptimizers(f func() Optimizer, pen Penalty) {
	for _, n := range net.nodesByID {
		if n.adj != nil {
			n.opt = f()
			n.pen = pen
		}
	}
}
