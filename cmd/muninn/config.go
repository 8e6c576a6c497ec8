// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"muninn.io/muninn/archive"
	"muninn.io/muninn/catalogue"
	"muninn.io/muninn/catalogue/postgresdb"
	"muninn.io/muninn/catalogue/sqlitedb"
	"muninn.io/muninn/store"
	"muninn.io/muninn/store/filestore"
	"muninn.io/muninn/store/s3store"
)

// Error is the class of CLI errors.
var Error = errs.Class("muninn")

// configPathEnv holds a colon-separated search path of directories and
// configuration files.
const configPathEnv = "MUNINN_CONFIG_PATH"

// loadConfig resolves the archive configuration. The archive argument
// is either the path of a configuration file, or an archive name that
// is looked up as <name>.cfg along MUNINN_CONFIG_PATH.
func loadConfig(archiveID string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("ini")

	path, err := resolveConfigFile(archiveID)
	if err != nil {
		return nil, err
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, Error.New("unable to read configuration %q: %v", path, err)
	}
	return v, nil
}

func resolveConfigFile(archiveID string) (string, error) {
	if archiveID == "" {
		return "", Error.New("no archive specified; use --archive or set %s", configPathEnv)
	}
	if info, err := os.Stat(archiveID); err == nil && !info.IsDir() {
		return archiveID, nil
	}

	fileName := archiveID + ".cfg"
	for _, entry := range filepath.SplitList(os.Getenv(configPathEnv)) {
		if entry == "" {
			continue
		}
		info, err := os.Stat(entry)
		if err != nil {
			continue
		}
		if info.IsDir() {
			candidate := filepath.Join(entry, fileName)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
			continue
		}
		if filepath.Base(entry) == fileName {
			return entry, nil
		}
	}
	return "", Error.New("configuration file for archive %q not found on %s", archiveID, configPathEnv)
}

// openArchive builds the archive handle described by the configuration.
func openArchive(log *zap.Logger) (*archive.Archive, error) {
	v, err := loadConfig(runCfg.Archive)
	if err != nil {
		return nil, err
	}

	var db catalogue.Backend
	switch backend := v.GetString("archive.database"); backend {
	case "sqlite":
		db, err = sqlitedb.Open(log.Named("sqlite"), sqlitedb.Config{
			ConnectionString: v.GetString("sqlite.connection_string"),
			TablePrefix:      v.GetString("sqlite.table_prefix"),
		})
	case "postgresql":
		db, err = postgresdb.Open(log.Named("postgresql"), postgresdb.Config{
			ConnectionString: v.GetString("postgresql.connection_string"),
			TablePrefix:      v.GetString("postgresql.table_prefix"),
		})
	default:
		return nil, Error.New("unsupported database backend %q", backend)
	}
	if err != nil {
		return nil, err
	}

	var storage store.Backend
	switch backend := v.GetString("archive.storage"); backend {
	case "fs":
		storage, err = filestore.New(log.Named("fs"), filestore.Config{
			Root: v.GetString("fs.root"),
		})
	case "s3":
		storage, err = s3store.New(log.Named("s3"), s3store.Config{
			Host:            v.GetString("s3.host"),
			Port:            v.GetInt("s3.port"),
			Bucket:          v.GetString("s3.bucket"),
			AccessKey:       v.GetString("s3.access_key"),
			SecretAccessKey: v.GetString("s3.secret_access_key"),
			Region:          v.GetString("s3.region"),
			UseSSL:          v.GetBool("s3.use_ssl"),
		})
	case "none", "":
		storage = store.Disabled{}
	default:
		return nil, Error.New("unsupported storage backend %q", backend)
	}
	if err != nil {
		return nil, err
	}

	a, err := archive.New(log, db, storage, archive.Config{
		UseSymlinks:        v.GetBool("archive.use_symlinks"),
		CascadeGracePeriod: time.Duration(v.GetInt("archive.cascade_grace_period")) * time.Minute,
		MaxCascadeCycles:   v.GetInt("archive.max_cascade_cycles"),
		AuthFile:           v.GetString("archive.auth_file"),
	})
	if err != nil {
		return nil, err
	}
	if err := registerExtensions(a); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}
