package inventory

import (
	"errors"
	"fmt"
)

// Common inventory errors
// 在庫処理の共通エラー定義

var (
	// ErrNoActiveSnapshot is returned when the job date has no active inventory
	// 汎用日付の有効な在庫マスタが存在しない場合のエラー
	ErrNoActiveSnapshot = errors.New("有効な在庫マスタが存在しません")

	// ErrDuplicateKey is returned when an input contains the same key twice
	// 同一キーが重複している場合のエラー
	ErrDuplicateKey = errors.New("在庫キーが重複しています")

	// ErrEmptyInput is returned when an import source has no rows
	// 取込データが空の場合のエラー
	ErrEmptyInput = errors.New("取込データがありません")
)

// ValidationError represents a validation error with details
// 詳細付きバリデーションエラーを表現
type ValidationError struct {
	Field   string `json:"field"`   // エラーフィールド
	Message string `json:"message"` // エラーメッセージ
	Value   string `json:"value"`   // 無効な値
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("バリデーションエラー [%s]: %s (値: %s)", e.Field, e.Message, e.Value)
}

// RowError is a validation failure tied to an input line
// 行番号付きの取込エラー
type RowError struct {
	Line  int    `json:"line"`
	Cause error  `json:"-"`
	Text  string `json:"message"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("%d行目: %v", e.Line, e.Cause)
}

func (e RowError) Unwrap() error {
	return e.Cause
}

// StorageError represents a storage layer error
// ストレージ層のエラーを表現
type StorageError struct {
	Operation string `json:"operation"` // 操作名
	Message   string `json:"message"`   // エラーメッセージ
	Cause     error  `json:"cause"`     // 原因エラー
}

func (e StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ストレージエラー [%s]: %s (原因: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("ストレージエラー [%s]: %s", e.Operation, e.Message)
}

func (e StorageError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error
// 新しいバリデーションエラーを作成
func NewValidationError(field, message, value string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NewRowError wraps cause with its input line number
func NewRowError(line int, cause error) *RowError {
	return &RowError{Line: line, Cause: cause, Text: cause.Error()}
}

// NewStorageError creates a new storage error
// 新しいストレージエラーを作成
func NewStorageError(operation, message string, cause error) *StorageError {
	return &StorageError{
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}
