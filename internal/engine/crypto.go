package engine

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/hadylab/slipstream/internal/decryptor"
)

// cryptoContext carries one job's imported key material and IV policy.
type cryptoContext struct {
	key []byte

	// explicitIV, when set, is reused for every segment. Otherwise the
	// IV is derived from mediaSequence plus the segment index.
	explicitIV    []byte
	mediaSequence uint64

	corrupted atomic.Int64
	log       zerolog.Logger
}

func (c *cryptoContext) ivFor(index int) []byte {
	if len(c.explicitIV) > 0 {
		return c.explicitIV
	}
	return decryptor.DeriveIV(c.mediaSequence, index)
}

// decryptSegment decrypts one segment. Decryption failures are lenient:
// the original ciphertext bytes are kept so the segment is not dropped,
// and the corruption counter is bumped for the final warning message.
func (c *cryptoContext) decryptSegment(data []byte, index int) []byte {
	plaintext, err := decryptor.Decrypt(data, c.key, c.ivFor(index))
	if err != nil {
		c.corrupted.Add(1)
		c.log.Warn().Int("segment", index).Err(err).
			Msg("decrypt failed, keeping ciphertext bytes")
		return data
	}
	return plaintext
}
