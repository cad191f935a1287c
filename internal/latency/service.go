// Package latency is the real-time application: it serves the latency
// commands, runs the sampler, and boots the whole real-time domain.
package latency

import (
	"gosuda.org/amplink"
	"gosuda.org/amplink/internal/protocol"
	"gosuda.org/amplink/internal/rtos"
	"gosuda.org/amplink/internal/sampler"
	"gosuda.org/amplink/internal/trace"
)

// cloneQueueSize bounds the CLONE requests waiting for the cloning lock
const cloneQueueSize = 8

type cloneJob struct {
	rp  amplink.Replier
	req amplink.Request
}

// Service dispatches latency commands to the sampling engine.
//
// CLONE may wait for as long as sampling runs, so it is handed to its own
// task; the dispatcher keeps serving, and a STOP queued behind a CLONE is
// what lets that CLONE complete.
type Service struct {
	engine *sampler.Engine
	log    trace.Logger
	clones *rtos.Queue[cloneJob]
}

// NewService creates a service for engine
func NewService(engine *sampler.Engine, log trace.Logger) *Service {
	if log == nil {
		log = trace.Discard
	}
	return &Service{
		engine: engine,
		log:    log,
		clones: rtos.NewQueue[cloneJob](cloneQueueSize),
	}
}

// Start spawns the clone task on k
func (s *Service) Start(k *rtos.Kernel) {
	k.Spawn("CLONE", rtos.PriorityHigh, s.cloneTask)
}

// ServeRequest handles one command. Every known command is acknowledged
// with its own word plus the ACK bit; unknown ones are logged and dropped.
func (s *Service) ServeRequest(t *rtos.Task, rp amplink.Replier, req *amplink.Request) error {
	switch cmd := req.Command(); cmd {
	case protocol.CmdClear:
		s.log.WriteLineString("rpmsg: CLEAR request")
		s.engine.Clear()
		return rp.Ack(t, req)
	case protocol.CmdStart:
		s.log.WriteLineString("rpmsg: START request")
		s.engine.Enable()
		return rp.Ack(t, req)
	case protocol.CmdStop:
		s.log.WriteLineString("rpmsg: STOP request")
		s.engine.Disable()
		return rp.Ack(t, req)
	case protocol.CmdClone:
		s.log.WriteLineString("rpmsg: CLONE request")
		return s.clones.Send(t, cloneJob{rp: rp, req: *req})
	case protocol.CmdGet:
		s.log.WriteLineString("rpmsg: GET request")
		if err := rp.Ack(t, req); err != nil {
			return err
		}
		return rp.Respond(t, req, s.engine.Image())
	case protocol.CmdQuit:
		s.log.WriteLineString("rpmsg: QUIT request")
		s.engine.Disable()
		return rp.Ack(t, req)
	default:
		trace.Logf(s.log, "rpmsg: unimplemented request %#x", req.Word)
		return nil
	}
}

// cloneTask copies the live histogram once the cloning lock is free, then
// acknowledges the CLONE
func (s *Service) cloneTask(t *rtos.Task) error {
	for {
		job, err := s.clones.Receive(t)
		if err != nil {
			return err
		}
		if err := s.engine.Clone(t.Context()); err != nil {
			return err
		}
		if err := job.rp.Ack(t, &job.req); err != nil {
			return err
		}
	}
}
