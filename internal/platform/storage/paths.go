package storage

import (
	"fmt"
	"path"
	"strings"
)

// ProductImagePath returns the object key for an uploaded product image.
func ProductImagePath(productID, uploadID, fileName string) (string, error) {
	productID, err := validateSegment("productID", productID)
	if err != nil {
		return "", err
	}
	uploadID, err = validateSegment("uploadID", uploadID)
	if err != nil {
		return "", err
	}
	fileName, err = validateSegment("fileName", fileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("products/%s/images/%s/%s", productID, uploadID, strings.ToLower(fileName)), nil
}

// ImportObjectPath returns the object key under which a product import file is staged.
func ImportObjectPath(importID, fileName string) (string, error) {
	importID, err := validateSegment("importID", importID)
	if err != nil {
		return "", err
	}
	fileName, err = validateSegment("fileName", fileName)
	if err != nil {
		return "", err
	}
	if ext := strings.ToLower(path.Ext(fileName)); ext != ".json" {
		return "", fmt.Errorf("storage: import file must be .json, got %q", ext)
	}
	return fmt.Sprintf("imports/products/%s/%s", importID, fileName), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", fmt.Errorf("storage: %s is required", name)
	case strings.ContainsAny(value, "/\\"):
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	case strings.Contains(value, ".."):
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
