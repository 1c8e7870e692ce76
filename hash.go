package main

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
)

func hashFile(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// hashDirectory hashes every regular file under dirPath. Relative paths are
// part of the digest so renames change it too.
func hashDirectory(dirPath string) (string, error) {
	hash := sha256.New()
	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		fileHash, err := hashFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dirPath, path)
		if err != nil {
			return err
		}
		hash.Write([]byte(filepath.ToSlash(rel)))
		hash.Write([]byte(fileHash))
		return nil
	})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// hashPaths combines the digests of files and directories in the given order.
func hashPaths(paths ...string) (string, error) {
	hash := sha256.New()
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return "", err
		}
		var sum string
		if info.IsDir() {
			sum, err = hashDirectory(p)
		} else {
			sum, err = hashFile(p)
		}
		if err != nil {
			return "", err
		}
		hash.Write([]byte(sum))
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
