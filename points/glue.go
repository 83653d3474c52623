package points

import (
	"bytes"
	"time"
)

// Glue packs points from in to plaintext chunks not bigger than chunkSize and
// passes them to callback. Partial chunk is flushed every chunkTimeout and when in is closed
func Glue(exit chan struct{}, in chan *Point, chunkSize int, chunkTimeout time.Duration, callback func([]byte)) {
	buf := bytes.NewBuffer(nil)

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		callback(buf.Bytes())
		buf = bytes.NewBuffer(nil)
	}

	ticker := time.NewTicker(chunkTimeout)
	defer ticker.Stop()

	for {
		select {
		case p, ok := <-in:
			if !ok { // in chan closed
				flush()
				return
			}

			s := p.String()
			if buf.Len()+len(s) > chunkSize {
				flush()
			}
			buf.WriteString(s)
		case <-ticker.C:
			flush()
		case <-exit:
			return
		}
	}
}
