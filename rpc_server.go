package serialscope

import (
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"

	"github.com/spf13/viper"
)

// ScopeControl is the JSON-RPC service that lets clients operate a Scope.
// Every method runs on the Scope's driver loop, between ticks.
type ScopeControl struct {
	scope  *Scope
	config Config
	viper  *viper.Viper // if non-nil, trigger and capacity changes are saved here
}

// NewScopeControl creates the RPC service for scope. v may be nil, in which
// case settings changes are not saved.
func NewScopeControl(scope *Scope, config Config, v *viper.Viper) *ScopeControl {
	return &ScopeControl{scope: scope, config: config, viper: v}
}

// Configure replaces the channel layout, capacity and trigger.
func (s *ScopeControl) Configure(args *EngineConfig, reply *bool) error {
	cfg := *args
	cfg.Capacity = s.config.QuantizeCapacity(cfg.Capacity)
	err := s.scope.Configure(cfg)
	*reply = (err == nil)
	if err == nil {
		s.save(func(v *viper.Viper) error { return StoreTrigger(v, cfg.Trigger) })
		s.save(func(v *viper.Viper) error { return StoreCapacity(v, cfg.Capacity) })
	}
	return err
}

// SetMode selects a mode by name ("roll", "normal", "armed", "stopped").
func (s *ScopeControl) SetMode(name *string, reply *bool) error {
	m, err := ParseMode(*name)
	if err != nil {
		return err
	}
	err = s.scope.SetMode(m)
	*reply = (err == nil)
	return err
}

// Arm clears the buffers and waits for a trigger.
func (s *ScopeControl) Arm(dummy *string, reply *bool) error {
	err := s.scope.Arm()
	*reply = (err == nil)
	return err
}

// Disarm stops an armed scope, keeping its data.
func (s *ScopeControl) Disarm(dummy *string, reply *bool) error {
	err := s.scope.Disarm()
	*reply = (err == nil)
	return err
}

// Resize quantizes the requested capacity, applies it and replies with the
// capacity actually used.
func (s *ScopeControl) Resize(capacity *int, reply *int) error {
	n := s.config.QuantizeCapacity(*capacity)
	if err := s.scope.Resize(n); err != nil {
		return err
	}
	*reply = n
	s.save(func(v *viper.Viper) error { return StoreCapacity(v, n) })
	return nil
}

// SetTrigger replaces the trigger configuration.
func (s *ScopeControl) SetTrigger(args *TriggerConfig, reply *bool) error {
	err := s.scope.SetTrigger(*args)
	*reply = (err == nil)
	if err == nil {
		s.save(func(v *viper.Viper) error { return StoreTrigger(v, *args) })
	}
	return err
}

// Status replies with the engine status.
func (s *ScopeControl) Status(dummy *string, reply *EngineStatus) error {
	st, err := s.scope.Status()
	*reply = st
	return err
}

// Snapshot replies with a copy of the buffers.
func (s *ScopeControl) Snapshot(dummy *string, reply *ChannelSnapshot) error {
	snap, err := s.scope.Snapshot()
	*reply = snap
	return err
}

// SendAllStatus causes a broadcast to clients containing all broadcastable status info
func (s *ScopeControl) SendAllStatus(dummy *string, reply *bool) error {
	err := s.scope.SendAll()
	*reply = (err == nil)
	return err
}

func (s *ScopeControl) save(store func(v *viper.Viper) error) {
	if s.viper == nil {
		return
	}
	if err := store(s.viper); err != nil {
		ProblemLogger.Printf("Could not save settings to %s: %v", s.viper.ConfigFileUsed(), err)
	}
}

// ServeRPC accepts connections on listener and serves control on each one
// with the JSON-RPC codec. It returns when the listener is closed.
func ServeRPC(listener net.Listener, control *ScopeControl) error {
	server := rpc.NewServer()
	if err := server.Register(control); err != nil {
		return err
	}
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		UpdateLogger.Printf("New RPC connection from %v", conn.RemoteAddr())
		go server.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// RunRPCServer listens on portrpc and serves control until abort is closed.
func RunRPCServer(control *ScopeControl, portrpc int, abort <-chan struct{}) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", portrpc))
	if err != nil {
		return err
	}
	go func() {
		<-abort
		listener.Close()
	}()
	return ServeRPC(listener, control)
}
