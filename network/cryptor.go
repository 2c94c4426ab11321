package network

// Cryptor transforms whole frames on their way out and the raw byte stream
// on its way in. Implementations must be length preserving because the read
// side decrypts before frames are carved.
//
// Encrypt and Decrypt may work in place (dst aliasing data) or into dst.
// Returning ok == false means no transformation happened and data is used
// unchanged.
type Cryptor interface {
	Encrypt(data, dst []byte) (out []byte, ok bool)
	Decrypt(data, dst []byte) (out []byte, ok bool)
}

// NopCryptor leaves every byte untouched. It is the default.
type NopCryptor struct{}

func (NopCryptor) Encrypt(data, dst []byte) ([]byte, bool) { return nil, false }
func (NopCryptor) Decrypt(data, dst []byte) ([]byte, bool) { return nil, false }

var _ Cryptor = NopCryptor{}

// transform applies f and falls back to data when nothing changed.
func transform(f func(data, dst []byte) ([]byte, bool), data []byte) []byte {
	out, ok := f(data, data)
	if !ok || out == nil {
		return data
	}
	return out
}
