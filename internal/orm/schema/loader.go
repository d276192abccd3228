package schema

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type fileSchema struct {
	Types []fileType `yaml:"types"`
}

type fileType struct {
	Name          string             `yaml:"name"`
	IDType        string             `yaml:"id_type"`
	Attributes    []fileAttribute    `yaml:"attributes"`
	Relationships []fileRelationship `yaml:"relationships"`
}

type fileAttribute struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Required  bool   `yaml:"required"`
	MaxLength int    `yaml:"max_length"`
}

type fileRelationship struct {
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"`
	Target     string `yaml:"target"`
	Inverse    string `yaml:"inverse"`
	ForeignKey string `yaml:"foreign_key"`
	Required   bool   `yaml:"required"`
}

// LoadFile reads a YAML schema file into a validated, frozen registry
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema file: %w", err)
	}
	defer f.Close()

	reg, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// Load parses a YAML schema into a validated, frozen registry.
//
//	types:
//	  - name: systems
//	    attributes:
//	      - {name: name, type: string, required: true}
//	    relationships:
//	      - {name: games, kind: many, target: games, inverse: system}
func Load(r io.Reader) (*Registry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc fileSchema
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("schema is empty")
		}
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	if len(doc.Types) == 0 {
		return nil, errors.New("schema declares no types")
	}

	reg := NewRegistry()
	var errs []error
	for i, ft := range doc.Types {
		rt, err := ft.build()
		if err != nil {
			errs = append(errs, fmt.Errorf("types[%d]: %w", i, err))
			continue
		}
		if err := reg.Register(rt); err != nil {
			errs = append(errs, fmt.Errorf("types[%d]: %w", i, err))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	reg.Freeze()
	return reg, nil
}

func (ft fileType) build() (*ResourceType, error) {
	idType, err := ParseIDType(ft.IDType)
	if err != nil {
		return nil, err
	}
	b := NewType(ft.Name).IDs(idType)

	for _, fa := range ft.Attributes {
		t, err := ParseAttrType(fa.Type)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", fa.Name, err)
		}
		var opts []AttrOption
		if fa.Required {
			opts = append(opts, Required())
		}
		if fa.MaxLength != 0 {
			opts = append(opts, MaxLength(fa.MaxLength))
		}
		b.Attr(fa.Name, t, opts...)
	}

	for _, fr := range ft.Relationships {
		card, err := ParseCardinality(fr.Kind)
		if err != nil {
			return nil, fmt.Errorf("relationship %s: %w", fr.Name, err)
		}
		var opts []RelOption
		if fr.Inverse != "" {
			opts = append(opts, Inverse(fr.Inverse))
		}
		if fr.ForeignKey != "" {
			opts = append(opts, ForeignKey(fr.ForeignKey))
		}
		if fr.Required {
			opts = append(opts, RequiredLink())
		}
		if card == ToOne {
			b.ToOne(fr.Name, fr.Target, opts...)
		} else {
			b.ToMany(fr.Name, fr.Target, opts...)
		}
	}

	return b.Build()
}
