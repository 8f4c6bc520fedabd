package main

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"cqbridge/internal/config"
)

func TestArchive_BackupAndRestore(t *testing.T) {
	src := t.TempDir()
	cfgPath := filepath.Join(src, "config.json")
	cfg := config.Defaults()
	cfg.Memory.DBPath = filepath.Join(src, "chat.db")
	cfg.Bot.DialoguesFile = filepath.Join(src, "dialogues.yaml")

	files := map[string]string{
		cfgPath:                    `{"bot":{}}`,
		cfg.Memory.DBPath:          "sqlite bytes",
		cfg.Memory.DBPath + "-wal": "wal bytes",
		cfg.Bot.DialoguesFile:      "- user: hi\n  assistant: hello\n",
	}
	for p, content := range files {
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	written, err := writeArchive(archive, newBackupSet(cfgPath, cfg))
	if err != nil {
		t.Fatalf("writeArchive: %v", err)
	}
	var names []string
	for _, w := range written {
		names = append(names, w.name)
	}
	sort.Strings(names)
	want := []string{"chat.db", "chat.db-wal", "config.json", "dialogues.yaml"}
	if len(names) != len(want) {
		t.Fatalf("archived %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("archived %v, want %v", names, want)
		}
	}

	dst := t.TempDir()
	restoreCfg := config.Defaults()
	restoreCfg.Memory.DBPath = filepath.Join(dst, "data", "history.db")
	restoreCfg.Bot.DialoguesFile = filepath.Join(dst, "canned.yaml")
	dstCfg := filepath.Join(dst, "config.json")

	restored, err := extractArchive(archive, newBackupSet(dstCfg, restoreCfg))
	if err != nil {
		t.Fatalf("extractArchive: %v", err)
	}
	if len(restored) != 4 {
		t.Errorf("restored %d files, want 4: %v", len(restored), restored)
	}

	checks := map[string]string{
		dstCfg:                            `{"bot":{}}`,
		restoreCfg.Memory.DBPath:          "sqlite bytes",
		restoreCfg.Memory.DBPath + "-wal": "wal bytes",
		restoreCfg.Bot.DialoguesFile:      "- user: hi\n  assistant: hello\n",
	}
	for p, want := range checks {
		got, err := os.ReadFile(p)
		if err != nil {
			t.Errorf("read %s: %v", p, err)
			continue
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", p, got, want)
		}
	}
}

func TestWriteArchive_NothingToBackUp(t *testing.T) {
	dir := t.TempDir()
	set := backupSet{entryConfig: filepath.Join(dir, "missing.json")}
	if _, err := writeArchive(filepath.Join(dir, "out.tar.gz"), set); err == nil {
		t.Fatal("expected error when no files exist")
	}
}

func TestExtractArchive_NotGzip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.tar.gz")
	os.WriteFile(p, []byte("plain text"), 0o644)
	if _, err := extractArchive(p, backupSet{}); err == nil {
		t.Fatal("expected error for non-gzip input")
	}
}
