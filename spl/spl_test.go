package spl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeMachine struct{ off bool }

func (f *fakeMachine) IRQOff() { f.off = true }
func (f *fakeMachine) IRQOn()  { f.off = false }

type fakeState struct {
	cur   int
	count int
}

func (f *fakeState) CurSPL() int          { return f.cur }
func (f *fakeState) SetCurSPL(v int)      { f.cur = v }
func (f *fakeState) IPLHighCount() int    { return f.count }
func (f *fakeState) SetIPLHighCount(v int) { f.count = v }

func TestSPLHighMasksInterrupts(t *testing.T) {
	m := &fakeMachine{}
	s := &fakeState{}
	prev := SPLHigh(m, s)
	assert.Equal(t, IPLNone, prev)
	assert.True(t, m.off)
	assert.Equal(t, 1, s.IPLHighCount())
}

func TestRedundantSplHighIsANoOp(t *testing.T) {
	m := &fakeMachine{}
	s := &fakeState{}
	old1 := SPLHigh(m, s)
	assert.Equal(t, IPLNone, old1)
	assert.Equal(t, 1, s.IPLHighCount())

	// Calling splhigh again while already at IPLHigh changes nothing: the
	// caller's saved return value already reflects the level to restore.
	old2 := SPLHigh(m, s)
	assert.Equal(t, IPLHigh, old2)
	assert.Equal(t, 1, s.IPLHighCount())
	assert.True(t, m.off)

	SPLX(m, s, old1)
	assert.False(t, m.off)
	assert.Equal(t, 0, s.IPLHighCount())
}

func TestSPLXNoOpWhenSameLevel(t *testing.T) {
	m := &fakeMachine{}
	s := &fakeState{}
	ret := SPLX(m, s, IPLNone)
	assert.Equal(t, IPLNone, ret)
	assert.False(t, m.off)
}

func TestNilMachineIsSafeBeforeCPUInit(t *testing.T) {
	assert.Equal(t, IPLHigh, SPLX(nil, nil, IPLHigh))
}
