/*
 * Copyright (c) 2022. TxnLab Inc.
 * All Rights reserved.
 */
package misc

import (
	"os"
	"sort"
	"strings"
)

var secretsMap = map[string]string{}

// SecretKeys returns the sorted names of all environment variables and registered secrets.
func SecretKeys() []string {
	var uniqKeys = map[string]bool{}
	for _, envVal := range os.Environ() {
		key := envVal[0:strings.IndexByte(envVal, '=')]
		uniqKeys[key] = true
	}
	for k := range secretsMap {
		uniqKeys[k] = true
	}
	var retStrings []string
	for k := range uniqKeys {
		retStrings = append(retStrings, k)
	}
	sort.Strings(retStrings)
	return retStrings
}

func GetSecret(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return secretsMap[key]
}

// SetSecret registers a secret that is not in the environment.
func SetSecret(key, value string) {
	secretsMap[key] = value
}
