package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Fingerprint 计算内容指纹（sha256 十六进制）
// 只取决于字节内容，修改时间不参与
func Fingerprint(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FingerprintBytes 计算内存数据的指纹
func FingerprintBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FingerprintFile 计算文件指纹
func FingerprintFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	fp, err := Fingerprint(f)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return fp, nil
}
