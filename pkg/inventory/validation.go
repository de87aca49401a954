package inventory

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const shippingMarkNameWidth = 8

// NewInventoryKey 5項目を正規化して在庫キーを作成
func NewInventoryKey(productCode, gradeCode, classCode, shippingMarkCode, shippingMarkName string) InventoryKey {
	return InventoryKey{
		ProductCode:      padCode(productCode, 5),
		GradeCode:        padCode(gradeCode, 3),
		ClassCode:        padCode(classCode, 3),
		ShippingMarkCode: padCode(shippingMarkCode, 4),
		ShippingMarkName: fixedWidth(shippingMarkName, shippingMarkNameWidth),
	}
}

// Normalize 正規化済みのキーを返す
func (k InventoryKey) Normalize() InventoryKey {
	return NewInventoryKey(k.ProductCode, k.GradeCode, k.ClassCode, k.ShippingMarkCode, k.ShippingMarkName)
}

// padCode 前後の空白を除去し、左0埋め（桁あふれはそのまま）
func padCode(s string, width int) string {
	s = strings.TrimSpace(s)
	if n := utf8.RuneCountInString(s); n < width {
		return strings.Repeat("0", width-n) + s
	}
	return s
}

// fixedWidth 右側の空白を除去し、指定文字数に切り詰め・空白埋め
func fixedWidth(s string, width int) string {
	r := []rune(strings.TrimRightFunc(s, unicode.IsSpace))
	if len(r) >= width {
		return string(r[:width])
	}
	return string(r) + strings.Repeat(" ", width-len(r))
}

// ValidateInventoryKey 在庫キーの形式をバリデーション
func ValidateInventoryKey(k InventoryKey) error {
	if strings.Trim(k.ProductCode, "0") == "" {
		return NewValidationError("product_code", "商品コードが空です", k.ProductCode)
	}
	fields := []struct{ name, value string }{
		{"product_code", k.ProductCode},
		{"grade_code", k.GradeCode},
		{"class_code", k.ClassCode},
		{"shipping_mark_code", k.ShippingMarkCode},
	}
	for _, f := range fields {
		if !isDigits(f.value) {
			return NewValidationError(f.name, "数字以外の文字が含まれています", f.value)
		}
	}
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ValidateInitialRow 前月末在庫の1行をバリデーション
func ValidateInitialRow(row InitialInventoryRow) error {
	if err := ValidateInventoryKey(row.InventoryKey); err != nil {
		return err
	}
	if row.Quantity.IsZero() && !row.Amount.IsZero() {
		return NewValidationError("amount", "数量0で金額が設定されています", row.Amount.String())
	}
	if row.StandardPrice.IsNegative() {
		return NewValidationError("standard_price", "標準単価は0以上である必要があります", row.StandardPrice.String())
	}
	return nil
}

// unitPrice 金額÷数量（数量0の場合は0）
func unitPrice(amount, quantity decimal.Decimal) decimal.Decimal {
	if quantity.IsZero() {
		return decimal.Zero
	}
	return amount.Div(quantity).Round(4)
}
