package main

import (
	"encoding/json"
	"os"

	"github.com/go-faster/errors"

	"github.com/ethpandaops/opcov/internal/decode"
	"github.com/ethpandaops/opcov/internal/isa"
	"github.com/ethpandaops/opcov/internal/opvm"
)

// scenarioFile is the on-disk shape opcov trace consumes: a code unit plus
// everything opvm.Program needs to actually execute it. There is no real
// external interpreter for this ISA to hand off to — unlike the workload a
// real coverage tool launches via run_path — so the scenario file carries
// its own inputs.
type scenarioFile struct {
	Code      *isa.CodeUnit              `json:"code"`
	Consts    []json.RawMessage          `json:"consts"`
	Locals    map[string]json.RawMessage `json:"locals"`
	Iterables map[int][]json.RawMessage  `json:"iterables"`
	Globals   map[string]string          `json:"globals"` // name -> builtin kind.
}

func loadScenario(path string) (*scenarioFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read scenario %s", path)
	}
	var sf scenarioFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return nil, errors.Wrapf(err, "parse scenario %s", path)
	}
	if sf.Code == nil {
		return nil, errors.Errorf("scenario %s: missing \"code\"", path)
	}
	return &sf, nil
}

func decodeValue(raw json.RawMessage) (opvm.Value, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case map[string]interface{}:
		excType, _ := t["exceptionType"].(string)
		if excType != "" {
			msg, _ := t["exceptionMessage"].(string)
			return &opvm.Exception{Type: excType, Message: msg}, nil
		}
		return nil, errors.New("unsupported object constant")
	case float64:
		return int(t), nil
	default:
		return v, nil
	}
}

var builtinRegistry = map[string]opvm.Builtin{
	"identity": func(args []opvm.Value) (opvm.Value, error) {
		if len(args) == 0 {
			return nil, nil
		}
		return args[0], nil
	},
	"exit": func(args []opvm.Value) (opvm.Value, error) {
		if len(args) == 0 {
			return nil, nil
		}
		return args[0], nil
	},
}

// buildProgram decodes sf.Code and assembles an opvm.Program ready to run,
// resolving consts, iterables and globals against their declared kinds.
func buildProgram(filename, unitID string, sf *scenarioFile) (*opvm.Program, map[string]opvm.Value, error) {
	d, err := decode.Decode(sf.Code)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "decode %s", unitID)
	}

	consts := make([]opvm.Value, len(sf.Consts))
	for i, raw := range sf.Consts {
		v, err := decodeValue(raw)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "decode const %d", i)
		}
		consts[i] = v
	}

	iterables := map[int][]opvm.Value{}
	for off, items := range sf.Iterables {
		vals := make([]opvm.Value, len(items))
		for i, raw := range items {
			v, err := decodeValue(raw)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "decode iterable item at offset %d", off)
			}
			vals[i] = v
		}
		iterables[off] = vals
	}

	globals := map[string]opvm.Builtin{}
	for name, kind := range sf.Globals {
		fn, ok := builtinRegistry[kind]
		if !ok {
			return nil, nil, errors.Errorf("unknown builtin kind %q for global %q", kind, name)
		}
		globals[name] = fn
	}

	locals := map[string]opvm.Value{}
	for name, raw := range sf.Locals {
		v, err := decodeValue(raw)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "decode local %q", name)
		}
		locals[name] = v
	}

	return &opvm.Program{
		Decoded:   d,
		Filename:  filename,
		UnitID:    unitID,
		Consts:    consts,
		Globals:   globals,
		Iterables: iterables,
	}, locals, nil
}
