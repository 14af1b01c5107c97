package trust

// KeySignature es la atestación de un firmante sobre una clave.
type KeySignature struct {
	Signature    string
	OrgID        string
	SignerID     string
	SigningKeyID string // clave con la que se firmó; índice en Key.Signatures
	Timestamp    int64  // epoch millis
}

// NewKeySignature valida que los cinco campos estén presentes.
func NewKeySignature(sig, orgID, signerID, signingKeyID string, timestamp int64) (*KeySignature, error) {
	switch {
	case sig == "":
		return nil, invalid(FieldSignature)
	case orgID == "":
		return nil, invalid(FieldOrganization)
	case signerID == "":
		return nil, invalid(FieldSigner)
	case signingKeyID == "":
		return nil, invalid(FieldKeyMaterial)
	case timestamp == 0:
		return nil, invalid(FieldTimestamp)
	}
	return &KeySignature{
		Signature:    sig,
		OrgID:        orgID,
		SignerID:     signerID,
		SigningKeyID: signingKeyID,
		Timestamp:    timestamp,
	}, nil
}

// Entry devuelve la forma almacenable de la firma.
func (s *KeySignature) Entry() SignatureEntry {
	return SignatureEntry{SignerID: s.SignerID, Timestamp: s.Timestamp, Sig: s.Signature}
}
