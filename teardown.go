package broker

import "fmt"

// teardown destroys every buffer, then every device adapter by adapter,
// then releases the backend. Backend errors are logged and the entry is
// dropped regardless, so the maps are empty afterwards. A second call is a
// no-op.
func (a *actor) teardown() {
	if a.tornDown {
		Logger().Debug("broker: teardown already done", "thread", a.name)
		return
	}
	a.tornDown = true
	log := Logger()
	log.Debug("broker: teardown started",
		"thread", a.name, "devices", a.reg.NumDevices(), "buffers", a.reg.NumBuffers())

	for buf, dev := range a.reg.Buffers() {
		if err := a.call("PollDevice", func() error {
			return a.backend.PollDevice(dev, true)
		}); err != nil {
			log.Warn("broker: teardown poll failed", "device", dev, "err", err)
		}
		if err := a.call("DestroyBuffer", func() error {
			return a.backend.DestroyBuffer(buf)
		}); err != nil {
			log.Warn("broker: teardown destroy buffer failed", "buffer", buf, "err", err)
		}
		a.reg.RemoveBuffer(buf)
	}
	if n := a.reg.NumBuffers(); n != 0 {
		panic(fmt.Sprintf("broker: %d buffers left after teardown", n))
	}

	if err := a.reg.Check(); err != nil {
		panic(fmt.Sprintf("broker: teardown: %v", err))
	}

	for _, adapter := range a.reg.Adapters() {
		for dev := range a.reg.DevicesOf(adapter) {
			if err := a.call("DestroyDevice", func() error {
				return a.backend.DestroyDevice(dev)
			}); err != nil {
				log.Warn("broker: teardown destroy device failed", "device", dev, "err", err)
			}
			a.reg.RemoveDevice(dev)
		}
	}
	if n := a.reg.NumDevices(); n != 0 {
		panic(fmt.Sprintf("broker: %d devices left after teardown", n))
	}

	if err := a.call("Release", func() error {
		a.backend.Release()
		return nil
	}); err != nil {
		log.Warn("broker: backend release failed", "err", err)
	}
	log.Info("broker: teardown complete", "thread", a.name, "processed", a.processed)
}
