package codec

import (
	"context"
	"crypto/rand"
	"testing"
)

func BenchmarkEncodeSigned_256B(b *testing.B)    { benchmarkEncode(b, 256, false) }
func BenchmarkEncodeSigned_4KB(b *testing.B)     { benchmarkEncode(b, 4096, false) }
func BenchmarkEncodeEncrypted_256B(b *testing.B) { benchmarkEncode(b, 256, true) }
func BenchmarkEncodeEncrypted_4KB(b *testing.B)  { benchmarkEncode(b, 4096, true) }

func BenchmarkDecodeSigned_4KB(b *testing.B)    { benchmarkDecode(b, 4096, false) }
func BenchmarkDecodeEncrypted_4KB(b *testing.B) { benchmarkDecode(b, 4096, true) }

func benchEncoding(b *testing.B, encrypt bool) (*Gateway, *Gateway, Encoding) {
	alice, _ := newTestGateway(b)
	bob, bobID := newTestGateway(b)
	enc := Signed
	if encrypt {
		enc = Encoding{Sign: true, Encrypt: true, Recipients: []string{bobID.DID()}}
	}
	return alice, bob, enc
}

func benchPayload(b *testing.B, size int) []byte {
	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		b.Fatal(err)
	}
	return data
}

func benchmarkEncode(b *testing.B, size int, encrypt bool) {
	alice, _, enc := benchEncoding(b, encrypt)
	data := benchPayload(b, size)
	ctx := context.Background()

	b.SetBytes(int64(size))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := alice.Encode(ctx, data, enc); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkDecode(b *testing.B, size int, encrypt bool) {
	alice, bob, enc := benchEncoding(b, encrypt)
	ctx := context.Background()
	wire, err := alice.Encode(ctx, benchPayload(b, size), enc)
	if err != nil {
		b.Fatal(err)
	}

	b.SetBytes(int64(size))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := bob.Decode(ctx, wire); err != nil {
			b.Fatal(err)
		}
	}
}
