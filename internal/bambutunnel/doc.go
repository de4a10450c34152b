// Package bambutunnel is a client for the local camera tunnel of a printer.
//
// A Session connects to the device over TLS 1.2, sends the 72 byte control
// packet that starts or stops the video stream and decodes the
// length-prefixed frames that follow into Samples:
//
//	s := bambutunnel.NewSession(settings)
//	s.Open(ctx)
//	s.Start(variable.StreamTypeVideo)
//	for {
//		err := s.ReadSample(&sample)
//		if bambutunnel.IsRetryable(err) {
//			// poll again later
//		}
//	}
//
// Only Open and the Start/Close round trips block. ReadSample does at most
// one short I/O tick and reports KindRetry until a whole frame is buffered.
// A Session has a single owner, overlapping calls fail with KindSequence.
package bambutunnel
