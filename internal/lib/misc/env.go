/*
 * Copyright (c) 2022. TxnLab Inc.
 * All Rights reserved.
 */

package misc

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
)

// LoadEnvSettings loads .env.local then .env; variables already set win.
func LoadEnvSettings(log *slog.Logger) {
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err == nil {
			Debugf(log, "loaded env file:%s", name)
		}
	}
}

// LoadEnvForNetwork loads the .env.<network> overrides, e.g. .env.devnet.
func LoadEnvForNetwork(log *slog.Logger, network string) {
	name := fmt.Sprintf(".env.%s", network)
	if err := godotenv.Load(name); err == nil {
		Debugf(log, "loaded env file:%s", name)
	}
}
