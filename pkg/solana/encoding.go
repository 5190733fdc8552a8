package solana

import "encoding/base64"

func decodeBase64(val string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(val)
}
