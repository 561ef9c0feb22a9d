package storage

import (
	"fmt"
	"path"
	"regexp"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

const (
	historyRoot = "history"
	exportRoot  = "exports"
)

// HistoryPrefix is the key prefix holding every history entry of one connection.
func HistoryPrefix(connectionName string) (string, error) {
	if err := validatePathComponent(connectionName, "connection name"); err != nil {
		return "", err
	}
	return historyRoot + "/" + connectionName + "/", nil
}

func BuildHistoryPath(connectionName, entryID string) (string, error) {
	prefix, err := HistoryPrefix(connectionName)
	if err != nil {
		return "", err
	}
	if err := validatePathComponent(entryID, "entry id"); err != nil {
		return "", err
	}
	return prefix + entryID + ".json", nil
}

// ExportPrefix is the key prefix holding every stored export.
func ExportPrefix() string {
	return exportRoot + "/"
}

func BuildExportPath(exportID string) (string, error) {
	if err := validatePathComponent(exportID, "export id"); err != nil {
		return "", err
	}
	return path.Join(exportRoot, exportID+".parquet"), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
