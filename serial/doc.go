// Package serial implements the byte-stream transport between the clacks
// service and the device.
//
// A [Transport] owns a port (any io.ReadWriteCloser: a TCP connection to a
// serial bridge from [DialTCP], or a local device from [OpenSerial]) and
// runs two loops. The write loop encodes queued request packets as
// "[[fullId body]]\n" frames. The read loop splits the inbound stream into
// lines and hands each decoded packet to a [Dispatcher]:
//
//	t, err := serial.NewTransport(ctx, port, svc, serial.WithLogger(l))
//	if err != nil {
//	    return err
//	}
//	if err := t.Start(); err != nil {
//	    return err
//	}
//	defer t.Close()
//
// Write failures and loss of the port are reported to the dispatcher as
// status packets; they never stop the service.
package serial
