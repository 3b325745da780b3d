package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunnable struct{ name string }

func (f *fakeRunnable) Name() string { return f.name }

func TestEnqueueDequeueFIFO(t *testing.T) {
	c := New(0, 0)
	a, b := &fakeRunnable{"a"}, &fakeRunnable{"b"}
	c.Enqueue(a)
	c.Enqueue(b)

	got, ok := c.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "a", got.Name())

	got, ok = c.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "b", got.Name())

	_, ok = c.Dequeue()
	assert.False(t, ok)
}

func TestStealOneTakesFromBack(t *testing.T) {
	c := New(0, 0)
	c.Enqueue(&fakeRunnable{"a"})
	c.Enqueue(&fakeRunnable{"b"})
	stolen, ok := c.StealOne()
	require.True(t, ok)
	assert.Equal(t, "b", stolen.Name())
	assert.Equal(t, 1, c.RunQueueLen())
}

func TestZombieReaping(t *testing.T) {
	c := New(0, 0)
	c.Zombify(&fakeRunnable{"dead"})
	c.Zombify(&fakeRunnable{"also-dead"})
	reaped := c.ReapZombies()
	assert.Len(t, reaped, 2)
	assert.Empty(t, c.ReapZombies())
}

func TestIPIDelivery(t *testing.T) {
	c := New(0, 0)
	c.SendIPI(IPIUnidle)
	c.SendIPI(IPITLBShootdown)
	codes := c.TakeIPIs()
	assert.ElementsMatch(t, []IPICode{IPIUnidle, IPITLBShootdown}, codes)
	assert.Empty(t, c.TakeIPIs())
}

func TestShootdownQueueCollapsesWhenFull(t *testing.T) {
	c := New(0, 0)
	for i := 0; i < shootdownQueueCapacity+5; i++ {
		c.QueueShootdown(Shootdown{VAddr: uintptr(i)})
	}
	pending := c.TakeShootdowns()
	assert.Len(t, pending, 1)
	assert.Equal(t, Shootdown{}, pending[0])
}

func TestRegistryLeastLoaded(t *testing.T) {
	reg := NewRegistry()
	c0 := reg.Add(0)
	c1 := reg.Add(1)
	c0.Enqueue(&fakeRunnable{"a"})
	c0.Enqueue(&fakeRunnable{"b"})

	best := reg.LeastLoaded(nil)
	assert.Equal(t, c1, best)
}

func TestMigrationPairOrdersBySoftwareID(t *testing.T) {
	reg := NewRegistry()
	c0 := reg.Add(0)
	c1 := reg.Add(1)
	first, second := MigrationPair(c1, c0)
	assert.Equal(t, c0, first)
	assert.Equal(t, c1, second)
}
