// Package app wires the metadata core's services together from
// configuration and exposes the high-level operations used by the CLI.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"docmeta-go/internal/annot"
	"docmeta-go/internal/config"
	"docmeta-go/internal/core"
	"docmeta-go/internal/digest"
	"docmeta-go/internal/encryption"
	"docmeta-go/internal/metastore"
)

// App is the application layer between the CLI and the core services.
// It constructs all dependencies from config and manages the store
// lifecycle on Close.
type App struct {
	cfg       *config.Config
	store     *metastore.Store
	registry  *annot.Registry
	encryptor encryption.Encryptor
	logger    core.Logger
	logFile   *os.File
}

// New creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "StoreMetadata").
// The caller must call Close when done.
func New(cfg *config.Config, operation string) (*App, error) {
	opID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	store := metastore.New(logger, core.RealClock{})
	if err := store.Init(cfg.Database.Path); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("initializing metadata store: %w", err)
	}

	enc, err := encryption.New(cfg.Export.Encryption)
	if err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	registry := annot.New(nil, logger)

	logger.Debug("application ready", "operation", operation, "db", store.Path())

	return &App{
		cfg:       cfg,
		store:     store,
		registry:  registry,
		encryptor: enc,
		logger:    logger,
		logFile:   logFile,
	}, nil
}

// Store returns the metadata store.
func (a *App) Store() *metastore.Store { return a.store }

// Registry returns the annotation registry.
func (a *App) Registry() *annot.Registry { return a.registry }

// DefaultAlgorithm resolves the algorithm to use for digest commands when
// the user did not supply one.
func (a *App) DefaultAlgorithm(flag string) (digest.Algorithm, error) {
	name := flag
	if name == "" {
		name = a.cfg.Digest.DefaultAlgorithm
	}
	if name == "" {
		name = "sha256"
	}
	return digest.ParseAlgorithm(name)
}

// StoreMetadata digests the file at path and upserts its record together
// with the given properties.
func (a *App) StoreMetadata(path string, props map[string]string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	return a.store.StorePath(abs, props)
}

// RetrieveMetadata returns all metadata for the file at path.
func (a *App) RetrieveMetadata(path string) (map[string]string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	return a.store.Retrieve(abs)
}

// RemoveMetadata deletes the file record and its metadata.
func (a *App) RemoveMetadata(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	return a.store.Remove(abs)
}

// ExportDB snapshots the metadata database, encrypts it with the
// passphrase, and writes it under dir, or the configured export
// directory when dir is empty. Returns the path of the written export.
func (a *App) ExportDB(passphrase, dir string) (string, error) {
	if dir == "" {
		dir = a.cfg.Export.Dir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}

	tmp, err := os.CreateTemp("", "docmeta-export-*.db")
	if err != nil {
		return "", fmt.Errorf("creating temp file for export: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	os.Remove(tmpPath) // VACUUM INTO refuses to overwrite an existing file
	defer os.Remove(tmpPath)

	if err := a.store.BackupTo(tmpPath); err != nil {
		return "", fmt.Errorf("snapshotting database: %w", err)
	}

	src, err := os.Open(tmpPath)
	if err != nil {
		return "", fmt.Errorf("opening database snapshot: %w", err)
	}
	defer src.Close()

	name := fmt.Sprintf("metadata-%s.db.age", time.Now().UTC().Format("20060102T150405Z"))
	outPath := filepath.Join(dir, name)
	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("creating export file: %w", err)
	}

	err = a.encryptor.Encrypt(passphrase, src, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("encrypting export: %w", err)
	}

	a.logger.Info("database exported", "path", outPath)
	return outPath, nil
}

// ImportDB decrypts an export snapshot to destPath. It refuses to
// overwrite an existing file.
func (a *App) ImportDB(srcPath, destPath, passphrase string) error {
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("destination already exists: %s", destPath)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening export file: %w", err)
	}
	defer src.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating destination file: %w", err)
	}

	err = a.encryptor.Decrypt(passphrase, src, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(destPath)
		return fmt.Errorf("decrypting export: %w", err)
	}

	a.logger.Info("database imported", "from", srcPath, "to", destPath)
	return nil
}

// Close releases the store connection and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing metadata store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
