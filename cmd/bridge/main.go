// Command bridge is the development CLI for compiled bridge artifacts:
// it inspects manifests, calls exported functions and drives hot reload
// interactively. Host classes need an embedding host VM; the CLI covers
// the scalar surface of an artifact.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crossvm/bridge/config"
	"github.com/crossvm/bridge/host"
	"github.com/crossvm/bridge/manifest"
	"github.com/crossvm/bridge/portable"
	"github.com/crossvm/bridge/runtime"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bridge",
		Short:         "Host-side tooling for compiled bridge artifacts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newInspectCmd(), newCallCmd(), newSchemaCmd(), newWatchCmd(), newReplCmd())
	return root
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <artifact.wasm>",
		Short: "Print the functions an artifact exports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			man, err := manifest.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Artifact: %s\n", args[0])
			fmt.Printf("ABI version: %d\n\n", man.ABIVersion)
			fmt.Println("Exported functions:")
			for _, fn := range man.Functions {
				fmt.Printf("  %s(%s) -> %s\n",
					fn.ExternalName, strings.Join(fn.Params, ", "), fn.Returns)
			}
			return nil
		},
	}
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the build manifest format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := manifest.JSONSchema()
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

// newRuntime builds a runtime for CLI use, honoring bridge.toml when one
// is found near the artifact.
func newRuntime(ctx context.Context, artifact string) (*runtime.Runtime, error) {
	cfg := runtime.Config{
		Schema:  host.NewSchema(),
		Factory: host.RecordFactory{Schema: host.NewSchema()},
	}

	if fc, err := config.FindAndLoad("."); err == nil && fc != nil {
		cfg.MemoryLimitPages = fc.Runtime.MemoryLimitPages
		if d, err := fc.Reclaim(); err == nil {
			cfg.ReclaimInterval = d
		}
		if log, err := fc.Logger(); err == nil {
			cfg.Logger = log
		}
	}

	r, err := runtime.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := r.LoadModule(ctx, artifact); err != nil {
		r.Close(ctx)
		return nil, err
	}
	return r, nil
}

func newCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <artifact.wasm> <function> [args...]",
		Short: "Call one exported function and print the result",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := newRuntime(ctx, args[0])
			if err != nil {
				return err
			}
			defer r.Close(ctx)

			fn, ok := r.Current().Function(args[1])
			if !ok {
				return fmt.Errorf("artifact does not export %q", args[1])
			}
			if len(args)-2 != len(fn.Params) {
				return fmt.Errorf("%s takes %d arguments, got %d",
					fn.ExternalName, len(fn.Params), len(args)-2)
			}

			callArgs := make([]host.Value, len(fn.Params))
			for i, raw := range args[2:] {
				v, err := parseArg(raw, fn.Params[i])
				if err != nil {
					return err
				}
				callArgs[i] = v
			}

			v, err := r.Call(ctx, fn.ExternalName, callArgs...)
			if err != nil {
				return err
			}
			fmt.Printf("%v\n", v)
			return nil
		},
	}
}

// parseArg converts one CLI argument into a host value for its declared
// type. The CLI covers scalars; structured values need an embedding host.
func parseArg(raw string, typ portable.Type) (host.Value, error) {
	switch typ.Kind {
	case portable.KindBool:
		return raw == "true" || raw == "1", nil
	case portable.KindInt:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", raw, err)
		}
		return v, nil
	case portable.KindFloat:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", raw, err)
		}
		return v, nil
	case portable.KindString, portable.KindAny:
		return raw, nil
	case portable.KindOptional, portable.KindDoubleOptional:
		if raw == "null" {
			return nil, nil
		}
		return parseArg(raw, *typ.Elem)
	}
	return nil, fmt.Errorf("cannot build a %s argument from the command line", typ)
}
