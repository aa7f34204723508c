// Package clacks correlates short-lived client requests with replies from
// a device on a shared serial link.
//
// Every request gets a base id from the [Service]. A message may carry an
// id suffix, a token starting with '_' and ending before the next space,
// which is moved from the message into the correlation id:
//
//	"led_A on"  ->  fullId "k3x9_A", body "led on", wire "[[k3x9_A led on]]"
//
// The device answers with the same full id, "[[k3x9_A ack]]", and the
// service moves the waiting [Request] to StateResponseReady. Requests that
// get no reply before their deadline move to StateTimedOut; requests
// submitted with a zero timeout are fire-and-forget and start in StateDone.
//
// Typical usage:
//
//	svc, err := clacks.NewService(ctx, clacks.WithLogger(l))
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
//
//	port, err := serial.DialTCP(ctx, "localhost:2000", time.Second)
//	if err != nil {
//	    return err
//	}
//	if err := svc.Attach(port); err != nil {
//	    return err
//	}
//
//	req, err := svc.Submit("led_A on", 500*time.Millisecond)
//	if err != nil {
//	    return err
//	}
//	defer svc.Release(req)
//
//	if st, _ := req.Wait(ctx); st == clacks.StateResponseReady {
//	    resp, _ := req.Response()
//	    fmt.Println(resp)
//	}
//
// Status packets, device output that answers no request, and late replies
// are delivered to every registered [Observer].
package clacks
