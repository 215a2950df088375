package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

type LogObserver struct{}

func (o *LogObserver) OnFlowStart(run *FlowRun) {
	logrus.WithField("mapping", run.MappingName).Info("开始创建 CDC 流程")
}

func (o *LogObserver) OnFlowComplete(run *FlowRun) {
	fields := logrus.Fields{
		"mapping": run.MappingName,
		"elapsed": time.Since(run.StartedAt).Round(time.Millisecond),
	}
	if run.Result != nil && run.Result.ProcessGroup != nil {
		fields["process_group"] = run.Result.ProcessGroup.ResourceID()
		fields["processors"] = len(run.Result.Processors)
	}
	logrus.WithFields(fields).Info("CDC 流程创建完成")
}

func (o *LogObserver) OnFlowError(run *FlowRun, err error) {
	logrus.WithField("mapping", run.MappingName).WithError(err).Error("CDC 流程创建失败")
}

// LedgerObserver records every completed run in the flow ledger.
// Ledger failures are logged and never fail the run.
type LedgerObserver struct {
	Ledger  *Ledger
	Timeout time.Duration
}

func (o *LedgerObserver) OnFlowStart(*FlowRun) {}

func (o *LedgerObserver) OnFlowComplete(run *FlowRun) {
	if run.Result == nil {
		return
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := o.Ledger.Record(ctx, run.Result, run.StartedAt); err != nil {
		logrus.WithField("mapping", run.MappingName).WithError(err).Warn("记录流程到账本失败")
	}
}

func (o *LedgerObserver) OnFlowError(*FlowRun, error) {}
