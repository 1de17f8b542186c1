package service

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/TIANLI0/CellOverlay/utils"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// 随机名冲突时的最大重试次数
const maxNameAttempts = 8

// OverlayStore 目录级文件存储，每次写入生成唯一文件名
type OverlayStore struct {
	dir string
	enc png.Encoder
}

func NewOverlayStore(dir string) (*OverlayStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(ErrStorage, "create directory %s: %v", dir, err)
	}
	return &OverlayStore{
		dir: dir,
		enc: png.Encoder{
			CompressionLevel: png.DefaultCompression,
			BufferPool:       sharedBufferPool,
		},
	}, nil
}

func (s *OverlayStore) Dir() string {
	return s.dir
}

// EncodePNG 将图像编码为PNG字节
func (s *OverlayStore) EncodePNG(img image.Image) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := s.enc.Encode(buf, img); err != nil {
		return nil, errors.Wrapf(ErrStorage, "png.Encode: %v", err)
	}
	return buf.Bytes(), nil
}

// SavePNG 以 prefix_xxxxxxxx.png 保存图像，返回文件名（不含目录）
func (s *OverlayStore) SavePNG(prefix string, img image.Image) (string, error) {
	data, err := s.EncodePNG(img)
	if err != nil {
		return "", err
	}
	return s.Save(prefix, ".png", data)
}

// Save 以独占方式创建新文件并写入数据
func (s *OverlayStore) Save(prefix, ext string, data []byte) (string, error) {
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := utils.UniqueName(prefix, ext)
		path := filepath.Join(s.dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			utils.Logger.Debug("filename collision, retrying", zap.String("name", name))
			continue
		}
		if err != nil {
			return "", errors.Wrapf(ErrStorage, "create %s: %v", path, err)
		}

		_, werr := f.Write(data)
		cerr := f.Close()
		if werr == nil {
			werr = cerr
		}
		if werr != nil {
			_ = os.Remove(path)
			return "", errors.Wrapf(ErrStorage, "write %s: %v", path, werr)
		}
		return name, nil
	}
	return "", errors.Wrap(ErrStorage, "could not allocate a unique filename")
}

// Exists 判断文件是否仍在目录中
func (s *OverlayStore) Exists(name string) bool {
	path, ok := s.Path(name)
	if !ok {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Path 返回文件的完整路径，拒绝带目录成分的名字
func (s *OverlayStore) Path(name string) (string, bool) {
	if name == "" || filepath.Base(name) != name {
		return "", false
	}
	return filepath.Join(s.dir, name), true
}

// Remove 删除文件，文件不存在不算错误
func (s *OverlayStore) Remove(name string) error {
	path, ok := s.Path(name)
	if !ok {
		return errors.Errorf("invalid filename %q", name)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

type bufferPool sync.Pool

var _ png.EncoderBufferPool = (*bufferPool)(nil)

var sharedBufferPool = (*bufferPool)(&sync.Pool{
	New: func() any {
		return &png.EncoderBuffer{}
	},
})

func (bp *bufferPool) Get() *png.EncoderBuffer {
	return (*sync.Pool)(bp).Get().(*png.EncoderBuffer)
}

func (bp *bufferPool) Put(eb *png.EncoderBuffer) {
	(*sync.Pool)(bp).Put(eb)
}
