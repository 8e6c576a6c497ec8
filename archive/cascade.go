// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package archive

import (
	"context"

	"muninn.io/muninn/archive/plugin"
	"muninn.io/muninn/schema"
)

// establishInvariants applies the cascade rules of all product types
// until a fixed point is reached or the cycle budget runs out: products
// whose sources were removed, or whose sources lost their data, are
// stripped or purged according to their type's rule.
func (a *Archive) establishInvariants(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	repeat := true
	for cycle := 0; repeat && cycle < a.config.MaxCascadeCycles; cycle++ {
		repeat = false
		for _, productType := range a.productTypes.Names() {
			p, err := a.productTypes.Plugin(productType)
			if err != nil {
				return err
			}
			rule := plugin.RuleOf(p)
			if rule == plugin.CascadeIgnore {
				continue
			}

			strip := rule == plugin.CascadePurgeAsStrip || rule == plugin.CascadeStrip
			products, err := a.db.FindProductsWithoutSource(ctx, productType, a.config.CascadeGracePeriod, strip)
			if err != nil {
				return err
			}
			if len(products) > 0 {
				repeat = true
			}
			if err := a.applyCascade(ctx, products, strip); err != nil {
				return err
			}

			// These rules act on removed sources only.
			if rule == plugin.CascadePurgeAsStrip || rule == plugin.CascadePurge {
				continue
			}

			products, err = a.db.FindProductsWithoutAvailableSource(ctx, productType, a.config.CascadeGracePeriod)
			if err != nil {
				return err
			}
			if len(products) > 0 {
				repeat = true
			}
			strip = rule == plugin.CascadeStrip || rule == plugin.Cascade
			if err := a.applyCascade(ctx, products, strip); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Archive) applyCascade(ctx context.Context, products []schema.Properties, strip bool) error {
	for _, properties := range products {
		core, err := coreOf(properties)
		if err != nil {
			return err
		}
		if strip {
			err = a.strip(ctx, &core)
		} else {
			err = a.purge(ctx, &core)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
