package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cqbridge/internal/config"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// Archive entry names. Restore maps each back to the path the current config uses.
const (
	entryConfig    = "config.json"
	entryDB        = "chat.db"
	entryDialogues = "dialogues.yaml"
)

// backupSet maps archive entry names to files on disk.
type backupSet map[string]string

func newBackupSet(cfgPath string, cfg *config.Config) backupSet {
	set := backupSet{
		entryConfig: cfgPath,
		entryDB:     cfg.Memory.DBPath,
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		set[entryDB+suffix] = cfg.Memory.DBPath + suffix
	}
	if cfg.Bot.DialoguesFile != "" {
		set[entryDialogues] = cfg.Bot.DialoguesFile
	}
	return set
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the history database, config and dialogue file",
		Long: `Creates a compressed .tar.gz archive containing the SQLite history
database (with its WAL files), the config file and the canned dialogue file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("cqbridge-backup-%s.tar.gz", ts))
			}

			written, err := writeArchive(outputPath, newBackupSet(cfgPath, cfg))
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			for _, f := range written {
				fmt.Printf("  - %s (%s)\n", f.name, humanize.Bytes(uint64(f.size)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.cqbridge/backups/cqbridge-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore data from a backup archive",
		Long: `Restores the history database, config file and dialogue file from an
archive created by 'cqbridge backup'. Target paths come from the current
config, or from the defaults when no config exists yet.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				cfg = config.Defaults()
				cfg.Memory.DBPath = config.ExpandPath(cfg.Memory.DBPath)
			}
			set := newBackupSet(cfgPath, cfg)
			if _, ok := set[entryDialogues]; !ok {
				set[entryDialogues] = filepath.Join(filepath.Dir(cfgPath), entryDialogues)
			}

			if !force {
				for _, p := range []string{cfgPath, cfg.Memory.DBPath} {
					if _, err := os.Stat(p); err == nil {
						fmt.Printf("WARNING: %s exists and would be overwritten.\n", p)
						return fmt.Errorf("restore aborted (use --force to proceed)")
					}
				}
			}

			restored, err := extractArchive(args[0], set)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Printf("Restore completed from: %s\n", args[0])
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

type archived struct {
	name string
	size int64
}

// writeArchive stores every existing file of set under its entry name.
// Missing optional files are skipped; an archive with no files is an error.
func writeArchive(outputPath string, set backupSet) ([]archived, error) {
	var present []string
	for name, path := range set {
		if _, err := os.Stat(path); err == nil {
			present = append(present, name)
		}
	}
	if len(present) == 0 {
		return nil, errors.New("no files to back up")
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return nil, err
	}
	defer out.Close()
	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	var written []archived
	for _, name := range present {
		size, err := addFile(tw, name, set[name])
		if err != nil {
			return nil, fmt.Errorf("add %s: %w", name, err)
		}
		written = append(written, archived{name: name, size: size})
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return written, out.Close()
}

func addFile(tw *tar.Writer, name, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return 0, err
	}
	header.Name = name
	if err := tw.WriteHeader(header); err != nil {
		return 0, err
	}
	return io.Copy(tw, f)
}

// extractArchive writes each known entry to its path in set. Unknown entries
// are skipped so archives never write outside the configured locations.
func extractArchive(archivePath string, set backupSet) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var restored []string
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		target, ok := set[header.Name]
		if !ok {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, err
		}
		out, err := os.Create(target)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", target, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return nil, fmt.Errorf("extract %s: %w", target, err)
		}
		if err := out.Close(); err != nil {
			return nil, err
		}
		restored = append(restored, target)
	}
	return restored, nil
}
