package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nemonet1337/zaiGoBatch/pkg/batch"
	"github.com/nemonet1337/zaiGoBatch/pkg/inventory"
)

// validateDate 汎用日付の検証
func (c *cli) validateDate(ctx context.Context, args []string) error {
	fs, cf := c.newFlagSet("validate-date")
	typeName := fs.String("type", "", "処理種別 (CARRYOVER, DAILY_CLOSE など)")
	allowDup := fs.Bool("allow-duplicate", false, "重複処理チェックを行わない")
	if err := fs.Parse(args); err != nil {
		return err
	}
	processType, err := parseType(*typeName)
	if err != nil {
		return err
	}

	a, jobDate, err := c.open(ctx, cf)
	if err != nil {
		return err
	}
	defer closeApp(a)

	v := a.Runner.Validator()
	result, err := v.ValidateJobDate(ctx, jobDate, processType, *allowDup)
	if err != nil {
		return err
	}
	if !result.IsValid {
		return &batch.DateValidationError{JobDate: jobDate, ProcessType: processType, Result: result}
	}

	fmt.Fprintf(c.stdout, "日付検証OK: %s %s\n", jobDate.Format("2006-01-02"), processType)
	if v.IsSpecialDateRange(jobDate) {
		rng := v.GetSpecialDateRange(jobDate)
		fmt.Fprintf(c.stdout, "特殊日付範囲: %s〜%s\n", rng.Start.Format("2006-01-02"), rng.End.Format("2006-01-02"))
	}
	return nil
}

// carryover 前日在庫引継
func (c *cli) carryover(ctx context.Context, args []string) error {
	fs, cf := c.newFlagSet("carryover")
	allowDup := fs.Bool("allow-duplicate", false, "重複処理チェックを行わない")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, jobDate, err := c.open(ctx, cf)
	if err != nil {
		return err
	}
	defer closeApp(a)

	pc, res, err := a.RunCarryover(ctx, jobDate, cf.by, *allowDup)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "前日在庫引継が完了しました: %s\n", pc.DataSetID)
	fmt.Fprintf(c.stdout, "  引継元: %s %s\n", res.Source, res.ParentDataSetID)
	fmt.Fprintf(c.stdout, "  %s\n", res.Summary())
	return nil
}

// initInventory 前月末在庫取込
func (c *cli) initInventory(ctx context.Context, args []string) error {
	fs, cf := c.newFlagSet("init-inventory")
	file := fs.String("file", "", "前月末在庫CSVファイル")
	encName := fs.String("encoding", "auto", "文字コード (auto, utf-8, shift_jis)")
	allowDup := fs.Bool("allow-duplicate", false, "重複処理チェックを行わない")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return usageError("--file を指定してください")
	}
	enc, err := inventory.ParseEncoding(*encName)
	if err != nil {
		return err
	}

	a, jobDate, err := c.open(ctx, cf)
	if err != nil {
		return err
	}
	defer closeApp(a)

	src, err := inventory.OpenCSVFile(*file, enc)
	if err != nil {
		return err
	}

	req := a.Request(jobDate, batch.ProcessTypeInit, cf.by)
	req.ImportedFiles = []string{src.Name()}
	req.AllowDuplicate = *allowDup
	pc, err := a.Runner.RunBatch(ctx, req, a.Initial.Work(src))
	if err != nil {
		for _, re := range inventory.RowErrors(err) {
			fmt.Fprintf(c.stderr, "  %s\n", re.Error())
		}
		return err
	}

	fmt.Fprintf(c.stdout, "前月末在庫取込が完了しました: %s\n", pc.DataSetID)
	if pc.History != nil {
		fmt.Fprintf(c.stdout, "  %s\n", pc.History.ErrorMessage)
	}
	return nil
}

// dailyClose 日次終了処理
func (c *cli) dailyClose(ctx context.Context, args []string) error {
	fs, cf := c.newFlagSet("daily-close")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, jobDate, err := c.open(ctx, cf)
	if err != nil {
		return err
	}
	defer closeApp(a)

	pc, err := a.RunDailyClose(ctx, jobDate, cf.by)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "日次終了処理が完了しました: %s\n", pc.DataSetID)
	if pc.History != nil {
		fmt.Fprintf(c.stdout, "  %s\n", pc.History.ErrorMessage)
	}
	return nil
}

// checkDailyClose 日次終了処理の実行可否を表示
func (c *cli) checkDailyClose(ctx context.Context, args []string) error {
	fs, cf := c.newFlagSet("check-daily-close")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, jobDate, err := c.open(ctx, cf)
	if err != nil {
		return err
	}
	defer closeApp(a)

	r, err := a.Guard.Inspect(ctx, jobDate)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "汎用日付: %s\n", jobDate.Format("2006-01-02"))
	if r.DailyReport != nil && r.DailyReport.EndTime != nil {
		fmt.Fprintf(c.stdout, "商品日報作成: %s\n", r.DailyReport.EndTime.In(a.Config.Location()).Format("15:04:05"))
	}
	if r.LastImport != nil && r.LastImport.EndTime != nil {
		fmt.Fprintf(c.stdout, "最終データ取込: %s\n", r.LastImport.EndTime.In(a.Config.Location()).Format("15:04:05"))
	}
	if r.CanClose {
		fmt.Fprintln(c.stdout, "日次終了処理を実行できます")
		return nil
	}
	for _, p := range r.Problems {
		fmt.Fprintf(c.stdout, "  - %s\n", p)
	}
	return r.Err()
}

// history 処理履歴の表示
func (c *cli) history(ctx context.Context, args []string) error {
	fs, cf := c.newFlagSet("history")
	typeName := fs.String("type", "", "処理種別")
	lastSuccess := fs.Bool("last-success", false, "最終成功処理を表示")
	summaryDays := fs.Int("summary", 0, "直近N日の処理種別ごとの集計を表示")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, jobDate, err := c.open(ctx, cf)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if *summaryDays > 0 {
		from := jobDate.AddDate(0, 0, -(*summaryDays - 1))
		rows, err := a.Store.History().Summarize(ctx, from, jobDate)
		if err != nil {
			return err
		}
		c.printSummary(rows)
		return nil
	}

	processType, err := parseType(*typeName)
	if err != nil {
		return err
	}

	var histories []batch.ProcessHistory
	if *lastSuccess {
		h, err := a.Runner.History().GetLastSuccessfulProcess(ctx, processType)
		if err != nil {
			return err
		}
		if h == nil {
			fmt.Fprintf(c.stdout, "%s の成功履歴はありません\n", processType)
			return nil
		}
		histories = append(histories, *h)
	} else {
		histories, err = a.Runner.History().GetProcessHistory(ctx, jobDate, processType)
		if err != nil {
			return err
		}
	}
	c.printHistories(histories, a.Config.Location())
	return nil
}

func (c *cli) printHistories(histories []batch.ProcessHistory, loc *time.Location) {
	if len(histories) == 0 {
		fmt.Fprintln(c.stdout, "処理履歴はありません")
		return
	}
	w := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\t汎用日付\t種別\t状態\t開始\t所要\t実行者\tデータセット\tメッセージ")
	for _, h := range histories {
		elapsed := "-"
		if h.EndTime != nil {
			elapsed = h.Duration().Round(time.Second).String()
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			h.ID,
			h.JobDate.Format("2006-01-02"),
			h.ProcessType,
			h.Status,
			h.StartTime.In(loc).Format("01-02 15:04:05"),
			elapsed,
			h.ExecutedBy,
			h.DataSetID,
			oneLine(h.ErrorMessage),
		)
	}
	w.Flush()
}

func (c *cli) printSummary(rows []batch.ProcessSummaryRow) {
	if len(rows) == 0 {
		fmt.Fprintln(c.stdout, "処理履歴はありません")
		return
	}
	w := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "種別\t成功\t失敗\t最終成功日")
	for _, r := range rows {
		last := "-"
		if r.LastJobDate != nil {
			last = r.LastJobDate.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", r.ProcessType, r.CompletedCount, r.FailedCount, last)
	}
	w.Flush()
}

// valuation 在庫評価の表示
func (c *cli) valuation(ctx context.Context, args []string) error {
	fs, cf := c.newFlagSet("valuation")
	top := fs.Int("top", 10, "金額上位N件を表示")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, jobDate, err := c.open(ctx, cf)
	if err != nil {
		return err
	}
	defer closeApp(a)

	v, err := a.Valuation.Evaluate(ctx, jobDate)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "在庫評価: %s %d件 数量 %s 金額 %s\n",
		jobDate.Format("2006-01-02"), v.Rows, v.TotalQuantity.String(), v.TotalAmount.StringFixed(0))
	w := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "分類\t件数\t数量\t金額")
	for _, ct := range v.Categories {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", ct.Category, ct.Rows, ct.Quantity.String(), ct.Amount.StringFixed(0))
	}
	w.Flush()

	counts := v.ClassCounts()
	fmt.Fprintf(c.stdout, "ABC: A %d件 / B %d件 / C %d件\n", counts["A"], counts["B"], counts["C"])
	w = tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "順位\t在庫キー\t商品名\t金額\t区分")
	for i, r := range v.Ranking {
		if *top > 0 && i >= *top {
			break
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, r.Key, r.ProductName, r.Amount.StringFixed(0), r.Class)
	}
	w.Flush()
	return nil
}

// confirmWord must be passed with --confirm to execute a reset
const confirmWord = "RESET"

// reset 処理のリセット
func (c *cli) reset(ctx context.Context, args []string) error {
	fs, cf := c.newFlagSet("reset")
	typeName := fs.String("type", "", "処理種別")
	confirm := fs.String("confirm", "", "RESET を指定すると実行（未指定時は確認のみ）")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cf.date == "" {
		return usageError("--date を指定してください")
	}
	processType, err := parseType(*typeName)
	if err != nil {
		return err
	}

	a, jobDate, err := c.open(ctx, cf)
	if err != nil {
		return err
	}
	defer closeApp(a)

	plan, err := a.Reset.Plan(ctx, jobDate, processType)
	if err != nil {
		return err
	}
	c.printPlan(plan)
	if plan.Empty() {
		fmt.Fprintln(c.stdout, "リセット対象はありません")
		return nil
	}
	if *confirm != confirmWord {
		fmt.Fprintf(c.stdout, "確認のみ実行しました。実行するには --confirm=%s を指定してください\n", confirmWord)
		return nil
	}

	by := cf.by
	if by == "" {
		by = a.Config.Batch.ExecutedBy
	}
	res, err := a.Reset.Execute(ctx, plan, by)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "リセットしました: 在庫マスタ無効化 %d件, 処理履歴 %d件, アーカイブ %s\n",
		res.DeactivatedRows, res.FailedHistories, orDash(res.ArchivedDataSet))
	return nil
}

func (c *cli) printPlan(plan *inventory.ResetPlan) {
	fmt.Fprintf(c.stdout, "リセット対象: %s %s\n", plan.JobDate.Format("2006-01-02"), plan.ProcessType)
	if plan.DeactivatesRows {
		fmt.Fprintln(c.stdout, "  - 在庫マスタの有効行を無効化")
	}
	for _, h := range plan.Histories {
		fmt.Fprintf(c.stdout, "  - 処理履歴 #%d (%s) を失敗に更新 (%s)\n", h.ID, h.Status, h.DataSetID)
	}
	if ds := plan.LatestDataSet; ds != nil {
		fmt.Fprintf(c.stdout, "  - データセット %s をアーカイブ (%s)\n", ds.DataSetID, ds.Status)
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
