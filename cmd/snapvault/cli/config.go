package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"snapvault/internal/repoconfig"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Get, set, or list repository configuration values",
	}
	cmd.AddCommand(newConfigGetCmd(), newConfigSetCmd(), newConfigListCmd())
	return cmd
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get REPO KEY",
		Short: "Print a single configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := repoconfig.Load(args[0])
			if err != nil {
				return fmt.Errorf("load repository config: %w", err)
			}
			v, ok := cfg.Get(args[1])
			if !ok {
				return fmt.Errorf("unknown config key %q", args[1])
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list REPO",
		Short: "List all configuration values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := repoconfig.Load(args[0])
			if err != nil {
				return fmt.Errorf("load repository config: %w", err)
			}
			keys := []string{"id", "segments_per_dir", "max_segment_size", "additional_free_space", "storage_quota", "append_only", "storage"}
			p := newPrinter(outputFormat(cmd))
			if p.format == "json" {
				m := make(map[string]string, len(keys))
				for _, k := range keys {
					v, _ := cfg.Get(k)
					m[k] = v
				}
				return p.json(m)
			}
			var pairs [][2]string
			for _, k := range keys {
				v, _ := cfg.Get(k)
				pairs = append(pairs, [2]string{k, v})
			}
			p.kv(pairs)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set REPO KEY VALUE",
		Short: "Change a configuration value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, key, value := args[0], args[1], args[2]
			cfg, err := repoconfig.Load(root)
			if err != nil {
				return fmt.Errorf("load repository config: %w", err)
			}
			if err := setConfigValue(cfg, key, value); err != nil {
				return err
			}
			if err := repoconfig.Save(root, cfg); err != nil {
				return fmt.Errorf("save repository config: %w", err)
			}
			return nil
		},
	}
}

func setConfigValue(cfg *repoconfig.Config, key, value string) error {
	switch key {
	case "segments_per_dir":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("segments_per_dir: %w", err)
		}
		cfg.SegmentsPerDir = n
	case "max_segment_size":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("max_segment_size: %w", err)
		}
		cfg.MaxSegmentSize = n
	case "additional_free_space":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("additional_free_space: %w", err)
		}
		cfg.AdditionalFreeSpace = n
	case "storage_quota":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("storage_quota: %w", err)
		}
		cfg.StorageQuota = n
	case "append_only":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("append_only: %w", err)
		}
		cfg.AppendOnly = b
	case "storage":
		cfg.Storage = value
	case "id":
		return fmt.Errorf("id is immutable")
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}
