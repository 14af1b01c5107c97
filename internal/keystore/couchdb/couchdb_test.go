package couchdb

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/keytrust/internal/trust"
)

func TestDocID(t *testing.T) {
	require.Equal(t, "orgs:acme:keys:k1", DocID("acme", "k1"))
}

func TestKeyDoc_FlattensRecord(t *testing.T) {
	doc := keyDoc{
		ID:    DocID("acme", "k1"),
		Type:  "key",
		OrgID: "acme",
		KeyID: "k1",
		Record: trust.Record{
			PublicKey:  "PEM",
			OwnerID:    "alice",
			Expiration: 5,
			Trust:      trust.TrustBlock{Sig: "dHJ1c3Q=", LastModified: 2},
		},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(raw, &flat))
	require.Equal(t, "PEM", flat["publicKey"])
	require.Equal(t, "orgs:acme:keys:k1", flat["_id"])
	require.NotContains(t, flat, "_rev")
	require.NotContains(t, flat, "Record")

	var back keyDoc
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Equal(t, doc, back)
}
