// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAppend(ResultOK, time.Millisecond)
		m.AddReceipts(3)
		m.ObserveRequest("/x", 200)
	})
}

func TestAppendAndReceiptCounters(t *testing.T) {
	m := New()
	m.ObserveAppend(ResultOK, 5*time.Millisecond)
	m.ObserveAppend(ResultOK, 5*time.Millisecond)
	m.ObserveAppend(ResultForbidden, 0)
	m.AddReceipts(2)
	m.AddReceipts(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.appended.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.appended.WithLabelValues(ResultForbidden)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.receipts))

	expected := `
# HELP campuschat_read_receipts_total Read receipts created.
# TYPE campuschat_read_receipts_total counter
campuschat_read_receipts_total 2
`
	require.NoError(t, testutil.GatherAndCompare(m.Gatherer(), strings.NewReader(expected), "campuschat_read_receipts_total"))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.ObserveRequest("/api/chat/conversations", http.StatusOK)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `campuschat_http_requests_total{code="200",route="/api/chat/conversations"} 1`)
}
