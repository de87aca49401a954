package batch

import "fmt"

// Operator-facing messages. Wording is fixed so every surface prints the same text.
const (
	MsgFutureDate          = "【異常終了】翌日以降のデータが選択されています。再度、エクスポートをやりなおしてください！！"
	MsgAlreadyProcessed    = "この日付は既に処理済みです。重複処理はできません。"
	MsgPastDateRange       = "処理可能な日付範囲を超えています。%d日以内の日付を指定してください。"
	MsgNoDailyReport       = "商品日報が作成されていません。先に商品日報を作成してください。"
	MsgDataSetInconsistent = "データセットが見つかりません。データの整合性を確認してください。"
	MsgBackupFailed        = "バックアップの作成に失敗しました。"
	MsgTooEarly            = "日次終了処理は%s以降に実行してください。（現在時刻: %s）"
	MsgTooSoonAfterReport  = "商品日報作成から%d分以上経過してから実行してください。（経過: %d分）"
	MsgTooSoonAfterImport  = "最終データ取込から%d分以上経過してから実行してください。（経過: %d分）"
)

// PastDateRangeMessage formats the past window message for maxDays.
func PastDateRangeMessage(maxDays int) string {
	return fmt.Sprintf(MsgPastDateRange, maxDays)
}
