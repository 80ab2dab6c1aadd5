// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Thermoquad/loranode/pkg/settings"
	"github.com/Thermoquad/loranode/pkg/transport"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect and edit node settings",
	Long: `Read and write the persisted settings record.

Without --url the settings file named by --file (or storage.path in the
configuration) is edited directly; the node must not be running. With --url
the record is exchanged with a running node over its companion endpoint.

Exports use CBOR with integer keys.`,
}

var settingsFile string

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the settings record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTarget(cmd, func(t settingsTarget) error {
			rec, err := t.Get()
			if err != nil {
				return err
			}
			return showRecord(cmd.OutOrStdout(), rec)
		})
	},
}

var settingsExportCmd = &cobra.Command{
	Use:   "export FILE",
	Short: "Export the settings record as CBOR (- for stdout)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTarget(cmd, func(t settingsTarget) error {
			rec, err := t.Get()
			if err != nil {
				return err
			}
			data, err := settings.EncodeCBOR(rec)
			if err != nil {
				return err
			}
			if args[0] == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(args[0], data, 0o644)
		})
	},
}

var settingsImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Replace the settings record with a CBOR export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		rec, err := settings.DecodeCBOR(data)
		if err != nil {
			return err
		}
		return withTarget(cmd, func(t settingsTarget) error {
			if err := t.Put(rec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported settings from %s\n", args[0])
			return nil
		})
	},
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore default settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTarget(cmd, func(t settingsTarget) error {
			d := settings.Defaults()
			if err := t.Put(&d); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Settings reset to defaults")
			return nil
		})
	},
}

var settingsMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Upgrade a settings file to the current layout",
	Long: `Load the settings file the way a booting node does. A previous-layout
image is converted and written back; an unreadable one is replaced by
defaults. With --legacy the file is instead rewritten in the previous layout,
which is useful for testing migration.`,
	Args: cobra.NoArgs,
	RunE: runSettingsMigrate,
}

var settingsLegacy bool

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.PersistentFlags().StringVarP(&settingsFile, "file", "f", "", "Settings file (default: storage.path from the configuration)")
	settingsMigrateCmd.Flags().BoolVar(&settingsLegacy, "legacy", false, "Write the previous layout instead")

	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsExportCmd)
	settingsCmd.AddCommand(settingsImportCmd)
	settingsCmd.AddCommand(settingsResetCmd)
	settingsCmd.AddCommand(settingsMigrateCmd)
}

//////////////////////////////////////////////////////////////
// Targets
//////////////////////////////////////////////////////////////

// settingsTarget is where a record is read from and written to
type settingsTarget interface {
	Get() (*settings.Record, error)
	Put(r *settings.Record) error
	Close() error
}

// localTarget edits a settings file through a Store
type localTarget struct {
	store *settings.Store
}

func openLocal(path string) (*localTarget, error) {
	store := settings.NewStore(settings.NewFileStorage(path), settings.WithSettle(0))
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return &localTarget{store: store}, nil
}

func (l *localTarget) Get() (*settings.Record, error) {
	rec := *l.store.Record()
	return &rec, nil
}

func (l *localTarget) Put(r *settings.Record) error {
	*l.store.Record() = *r
	if !l.store.Save() {
		return errors.New("failed to save settings")
	}
	return nil
}

func (l *localTarget) Close() error { return nil }

// remoteImage is the part of a companion connection settings need
type remoteImage interface {
	ReadSettings() ([]byte, error)
	WriteSettings(image []byte) error
	Close() error
}

// remoteTarget exchanges images with a running node. The node pushes its
// image on connect and after every accepted write.
type remoteTarget struct {
	conn remoteImage
}

func (r *remoteTarget) Get() (*settings.Record, error) {
	data, err := r.conn.ReadSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	var rec settings.Record
	if err := rec.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *remoteTarget) Put(rec *settings.Record) error {
	// Drain the image pushed on connect so the reply below is ours
	if _, err := r.conn.ReadSettings(); err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	if err := r.conn.WriteSettings(data); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	got, err := r.Get()
	if err != nil {
		return err
	}
	if *got != *rec {
		return errors.New("node did not accept the settings image")
	}
	return nil
}

func (r *remoteTarget) Close() error { return r.conn.Close() }

func withTarget(cmd *cobra.Command, fn func(settingsTarget) error) error {
	var t settingsTarget
	if wsURL != "" {
		conn, err := dialCompanion()
		if err != nil {
			return err
		}
		t = &remoteTarget{conn: conn}
	} else {
		path, err := settingsPath(cmd)
		if err != nil {
			return err
		}
		local, err := openLocal(path)
		if err != nil {
			return err
		}
		t = local
	}
	defer t.Close()
	return fn(t)
}

func settingsPath(cmd *cobra.Command) (string, error) {
	if settingsFile != "" {
		return settingsFile, nil
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	return cfg.Storage.Path, nil
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

func showRecord(out io.Writer, rec *settings.Record) error {
	io.WriteString(out, rec.Format())
	errs := settings.Validate(rec)
	if len(errs) == 0 {
		return nil
	}
	fmt.Fprintln(out, "\nValidation errors:")
	for _, e := range errs {
		fmt.Fprintf(out, "  %s\n", e.Error())
	}
	return fmt.Errorf("%d invalid field(s)", len(errs))
}

func runSettingsMigrate(cmd *cobra.Command, args []string) error {
	path, err := settingsPath(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if settingsLegacy {
		local, err := openLocal(path)
		if err != nil {
			return err
		}
		data, err := settings.LegacyImage(local.store.Record())
		if err != nil {
			return err
		}
		if err := settings.NewFileStorage(path).Write(data); err != nil {
			return err
		}
		fmt.Fprintf(out, "Wrote previous-layout image to %s\n", path)
		return nil
	}

	store := settings.NewStore(settings.NewFileStorage(path),
		settings.WithSettle(0),
		settings.WithLogger(log.With().Str("component", "settings").Logger()))
	if err := store.Load(); err != nil {
		return err
	}
	if store.Writes() > 0 {
		fmt.Fprintf(out, "Rewrote %s in the current layout\n", path)
	} else {
		fmt.Fprintf(out, "%s is already current\n", path)
	}
	return nil
}

var _ remoteImage = (*transport.WebSocketConnection)(nil)
