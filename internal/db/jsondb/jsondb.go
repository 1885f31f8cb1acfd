// Package jsondb is the file-backed storage: the memory storage loaded from a
// JSON file on start and written back on Close.
package jsondb

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/patric-chuzhbe/tokenshrt/internal/db/memorystorage"
)

type JSONDB struct {
	*memorystorage.MemoryStorage
	fileName string
}

func New(fileName string) (*JSONDB, error) {
	dump, err := parseJSONFile(fileName)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		dump = memorystorage.Dump{}
		if err := writeToJSONFile(fileName, dump); err != nil {
			return nil, err
		}
	}

	return &JSONDB{
		MemoryStorage: memorystorage.NewFromDump(dump),
		fileName:      fileName,
	}, nil
}

// Close persists the current content to the file.
func (db *JSONDB) Close() error {
	return writeToJSONFile(db.fileName, db.Snapshot())
}

func writeToJSONFile(fileName string, dump memorystorage.Dump) error {
	jsonData, err := json.MarshalIndent(dump, "", "\t")
	if err != nil {
		return fmt.Errorf("error marshaling JSON: %w", err)
	}

	// written to a sibling file, then renamed over the target
	tmpName := fileName + ".tmp"
	if err := os.WriteFile(tmpName, jsonData, 0644); err != nil {
		return fmt.Errorf("error writing to file: %w", err)
	}

	if err := os.Rename(tmpName, fileName); err != nil {
		return fmt.Errorf("error renaming file: %w", err)
	}

	return nil
}

func parseJSONFile(fileName string) (memorystorage.Dump, error) {
	var dump memorystorage.Dump

	file, err := os.Open(fileName)
	if err != nil {
		return dump, err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&dump); err != nil {
		return dump, fmt.Errorf("error parsing %s: %w", fileName, err)
	}

	return dump, nil
}
