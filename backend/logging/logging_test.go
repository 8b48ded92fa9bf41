// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWriter_JSON(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	lvl := SetupWriter(&buf, "WARN", FormatJSON)
	assert.Equal(t, zerolog.WarnLevel, lvl)

	log.Info().Msg("dropped")
	log.Warn().Str("conversation_id", "c1").Msg("kept")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "c1", entry["conversation_id"])
	assert.Equal(t, "warn", entry["level"])
}

func TestSetupWriter_UnknownLevel(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	assert.Equal(t, zerolog.InfoLevel, SetupWriter(&buf, "chatty", FormatConsole))
	assert.Equal(t, zerolog.InfoLevel, SetupWriter(&buf, "", FormatConsole))
}
