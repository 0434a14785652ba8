// Package workers holds the built-in property workers.
//
// Each worker writes its output as a sibling property on the same element:
// the source key with the source name plus "." and a suffix. Derived
// properties are never picked up again by the worker that wrote them.
package workers

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattjoyce/graphproc/internal/graph"
	"github.com/mattjoyce/graphproc/internal/plugin"
)

// Builtins returns the catalog of built-in workers.
func Builtins() plugin.Catalog {
	return plugin.Catalog{
		HashName: func() plugin.Worker { return NewHash() },
		SizeName: func() plugin.Worker { return NewSize() },
		FoldName: func() plugin.Worker { return NewFold() },
	}
}

// base carries what every built-in worker needs after Prepare.
type base struct {
	store graph.Store
	keys  []string
}

func (b *base) prepare(startup plugin.StartupData, cfg any) error {
	if startup.Store == nil {
		return fmt.Errorf("store is required")
	}
	b.store = startup.Store
	return plugin.DecodeConfig(startup.Config, cfg)
}

func (b *base) verify() error {
	if b.store == nil {
		return fmt.Errorf("not prepared")
	}
	return nil
}

// live reports whether p is a visible property this worker may consider.
func (b *base) live(p *graph.Property, suffix string) bool {
	if p == nil || p.Hidden || p.Deleted {
		return false
	}
	if strings.HasSuffix(p.Name, "."+suffix) {
		return false
	}
	if len(b.keys) == 0 {
		return true
	}
	for _, k := range b.keys {
		if k == p.Key {
			return true
		}
	}
	return false
}

// saveSibling stores value next to the property being processed.
func (b *base) saveSibling(ctx context.Context, data *plugin.WorkData, suffix string, value any) error {
	src := data.Property
	_, err := b.store.Save(ctx, graph.Mutation{
		Ref: data.Element.Ref,
		Properties: []graph.PropertyMutation{{
			Key:        src.Key,
			Name:       src.Name + "." + suffix,
			Visibility: src.Visibility,
			Value:      value,
		}},
	})
	if err != nil {
		return fmt.Errorf("save %s.%s on %s: %w", src.Name, suffix, data.Element.Ref, err)
	}
	return nil
}
