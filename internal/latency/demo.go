package latency

import (
	"time"

	"gosuda.org/amplink/internal/rtos"
	"gosuda.org/amplink/internal/trace"
)

// DemoTask returns a task that sleeps for period on an absolute schedule
// and logs whether each wake-up happened within one scheduler tick of the
// expected time
func DemoTask(period time.Duration, log trace.Logger) rtos.TaskFunc {
	return func(t *rtos.Task) error {
		log.WriteLineString("task_demo: started")

		tk := t.NewTicker()
		for {
			start := time.Now()
			if err := tk.DelayUntil(period); err != nil {
				return err
			}
			slept := time.Since(start)

			if d := slept - period; d < -t.Kernel().Tick() || d > t.Kernel().Tick() {
				trace.Logf(log, "task_demo: task resumed out of expected boundary (%v)", slept)
			} else {
				log.WriteLineString("task_demo: task resumed as expected")
			}
		}
	}
}
