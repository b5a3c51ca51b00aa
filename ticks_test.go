package rtcore

import (
	"math/rand"
	"os"
	"testing"
	"time"
	"unsafe"
)

var seed int64

func TestMain(m *testing.M) {
	seed = time.Now().UnixNano()
	rand.Seed(seed)
	res := m.Run()
	os.Exit(res)
}

func TestTickConst(t *testing.T) {
	var tick Tick
	if TickBits > uint(unsafe.Sizeof(tick.v)*8) {
		t.Fatalf("bad TickBits constant, too big\n")
	}
	if TickBits < 16 {
		t.Fatalf("bad TickBits constant, too small\n")
	}
	if MaxTicksDiff == 0 || (MaxTicksDiff&(MaxTicksDiff-1) != 0) {
		t.Fatalf("wrong MaxTicksDiff 0x%x, should be 2^k\n", MaxTicksDiff)
	}
	if ((TickMask+1)&TickMask) != 0 ||
		(MaxTicksDiff-1)&TickMask != (MaxTicksDiff-1) ||
		MaxTicksDiff&TickMask != MaxTicksDiff {
		t.Fatalf("wrong TickMask 0x%x\n", TickMask)
	}
}

func tstOp(t *testing.T, p string, v1, v2 uint64) {
	t1 := NewTick(v1)
	t2 := NewTick(v2)

	if !((t1.Val() == v1) == (v1 <= TickMask)) {
		t.Errorf(p+"Val for 0x%x (mask 0x%x) => 0x%x failed\n",
			v1, TickMask, t1.Val())
	}
	if !((t2.Val() == v2) == (v2 <= TickMask)) {
		t.Errorf(p+"Val for 0x%x (mask 0x%x) => 0x%x failed\n",
			v2, TickMask, t2.Val())
	}

	if t1.EQ(t2) != ((v1 & TickMask) == (v2 & TickMask)) {
		t.Errorf(p+"EQ for 0x%x <> 0x%x failed (0x%x, 0x%x)\n",
			t1.Val(), t2.Val(), v1, v2)
	}
	if v1 == v2 && !t1.EQ(t2) {
		t.Errorf(p+"EQ2 for 0x%x <> 0x%x failed (0x%x, 0x%x)\n",
			t1.Val(), t2.Val(), v1, v2)
	}
	if ((v1 >= v2) && ((v1 - v2) < MaxTicksDiff)) ||
		((v1 < v2) && ((v2 - v1) < MaxTicksDiff)) {
		// as long as abs(v1-v2) is not bigger then MaxTicksDiff
		if t1.NE(t2) != (v1 != v2) {
			t.Errorf(p+"NE for 0x%x <> 0x%x failed (0x%x, 0x%x)\n",
				t1.Val(), t2.Val(), v1, v2)
		}
		if t1.LT(t2) != (v1 < v2) {
			t.Errorf(p+"LT for 0x%x <> 0x%x failed (0x%x, 0x%x)\n",
				t1.Val(), t2.Val(), v1, v2)
		}
		if t1.LE(t2) != (v1 <= v2) {
			t.Errorf(p+"LE for 0x%x <> 0x%x failed (0x%x, 0x%x)\n",
				t1.Val(), t2.Val(), v1, v2)
		}
		if t1.GT(t2) != (v1 > v2) {
			t.Errorf(p+"GT for 0x%x <> 0x%x failed (0x%x, 0x%x)\n",
				t1.Val(), t2.Val(), v1, v2)
		}
		if t1.GE(t2) != (v1 >= v2) {
			t.Errorf(p+"GE for 0x%x <> 0x%x failed (0x%x, 0x%x) v1 GE v2 %v diff 0x%x (%d) t1 - t2 = 0x%x  mask = 0x%x\n",
				t1.Val(), t2.Val(), v1, v2,
				v1 >= v2, v1-v2, v1-v2, t1.Val()-t2.Val(), TickMask)
		}
		if t1.Add(t2).NE(NewTick(v1 + v2)) {
			t.Errorf(p+"Add for 0x%x <> 0x%x failed (0x%x, 0x%x)\n",
				t1.Val(), t2.Val(), v1, v2)
		}
		if t1.Sub(t2).NE(NewTick(v1 - v2)) {
			t.Errorf(p+"Sub for 0x%x <> 0x%x failed (0x%x, 0x%x)\n",
				t1.Val(), t2.Val(), v1, v2)
		}
		if t1.AddUint64(v2).NE(NewTick(v1 + v2)) {
			t.Errorf(p+"AddUint64 for 0x%x <> 0x%x failed (0x%x, 0x%x)\n",
				t1.Val(), t2.Val(), v1, v2)
		}
		if t1.SubUint64(v2).NE(NewTick(v1 - v2)) {
			t.Errorf(p+"SubUint64 for 0x%x <> 0x%x failed (0x%x, 0x%x)\n",
				t1.Val(), t2.Val(), v1, v2)
		}
	}
}

func TestTickOps(t *testing.T) {
	const iterations = 100000
	tstOp(t, "", 1, 2)
	tstOp(t, "", 4, 3)
	tstOp(t, "", MaxTicksDiff-1, 1)
	tstOp(t, "", 1, MaxTicksDiff-1)
	tstOp(t, "", MaxTicksDiff-1, MaxTicksDiff-2)
	tstOp(t, "", MaxTicksDiff-2, MaxTicksDiff-1)
	tstOp(t, "", MaxTicksDiff, 0)
	tstOp(t, "", MaxTicksDiff+1, MaxTicksDiff+2)
	tstOp(t, "", MaxTicksDiff+4, MaxTicksDiff+3)

	for i := 0; i < iterations; i++ {
		v1 := uint64(rand.Int63())
		diff := uint64(rand.Int63n(int64(MaxTicksDiff)))
		tstOp(t, "rand+: ", v1, v1+diff)
		tstOp(t, "rand-: ", v1, v1-diff)
	}
	for i := 0; i < iterations; i++ {
		v1 := uint64(rand.Int63())
		v2 := uint64(rand.Int63())
		tstOp(t, "rand2: ", v1, v2)
	}
}

func TestTickFromMillis(t *testing.T) {
	var k Kernel
	k.Init(DefaultTickDuration)

	if tk := k.TickFromMillis(-1); tk.Val() != TickForever {
		t.Fatalf("TickFromMillis(-1) = %v, want TickForever\n", tk)
	}
	for _, sec := range []int32{0, 1, 2, 5} {
		got := k.TickFromMillis(sec * 1000)
		want := NewTick(uint64(sec) * TicksPerSec)
		if got.NE(want) {
			t.Errorf("TickFromMillis(%d*1000) = %v, want %v\n", sec, got, want)
		}
	}
	prev := k.TickFromMillis(0)
	for ms := int32(1); ms < 5000; ms += 17 {
		cur := k.TickFromMillis(ms)
		if cur.Before(prev) {
			t.Fatalf("TickFromMillis not monotonic at ms=%d: %v < %v\n",
				ms, cur, prev)
		}
		prev = cur
	}
}
