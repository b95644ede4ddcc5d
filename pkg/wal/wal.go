package wal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// 自己定義常用的權限常量
const (
	// rw-r--r-- (擁有者讀寫，其他人唯讀)
	FileModeReadOnly fs.FileMode = 0644

	// rw------- (只有擁有者可讀寫) - 適用於帳本資料
	FileModePrivate fs.FileMode = 0600
)

// WAL 以 JSON Lines 格式寫入的 Write-Ahead Log
type WAL struct {
	file *os.File
	mu   sync.Mutex

	// syncFile 預設為 (*os.File).Sync，測試可替換
	syncFile func(*os.File) error
}

// NewWAL 開啟或建立一個 WAL 檔案
// O_RDWR讀寫模式
// O_APPEND 每次寫入時自動跳到文件末尾
// O_CREATE 如果文件不存在則建立
func NewWAL(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileModePrivate)
	if err != nil {
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}
	return &WAL{file: file, syncFile: (*os.File).Sync}, nil
}

// Write 寫入一筆資料並刷入硬碟，回傳 nil 代表資料已落盤
// 寫入或刷盤失敗時截斷回寫入前的長度，失敗的紀錄不會在恢復時出現
func (w *WAL) Write(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()

	if _, err := w.file.Write(line); err != nil {
		return w.rollback(size, err)
	}
	if err := w.syncFile(w.file); err != nil {
		return w.rollback(size, err)
	}
	return nil
}

func (w *WAL) rollback(size int64, cause error) error {
	if err := w.file.Truncate(size); err != nil {
		return errors.Join(cause, fmt.Errorf("truncate wal to %d: %w", size, err))
	}
	return cause
}

// Sync 強制刷入硬碟
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

// Close 關閉檔案
func (w *WAL) Close() error {
	return w.file.Close()
}

// ReadAll 從頭讀取所有資料
// callback 逐筆接收原始 JSON，避免一次將所有資料載入記憶體
// 檔尾若有寫到一半的紀錄 (當機造成)，會被截斷後視為結束
func (w *WAL) ReadAll(callback func(jsonRaw []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	decoder := json.NewDecoder(w.file)
	for {
		goodOffset := decoder.InputOffset()
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return w.file.Truncate(goodOffset)
			}
			return fmt.Errorf("decode wal record at offset %d: %w", goodOffset, err)
		}
		if err := callback(raw); err != nil {
			return err
		}
	}
}
