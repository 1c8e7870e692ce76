package main

import (
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

func main() {
	pulumi.Run(func(ctx *pulumi.Context) error {
		cfg, err := LoadConfig(ctx)
		if err != nil {
			return err
		}

		stack, err := NewStack(ctx, cfg)
		if err != nil {
			return err
		}
		stack.Export(ctx)

		return nil
	})
}
