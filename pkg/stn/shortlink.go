package stn

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// Short-link request headers
const (
	HeaderCmd           = "X-Stn-Cmd"
	HeaderTask          = "X-Stn-Task"
	HeaderClientVersion = "X-Stn-Client-Version"
)

// runShortTask posts the task to every resolved address of its host until one
// answers
func (n *Network) runShortTask(ctx context.Context, task Task) {
	buf, err := n.cb.Req2Buf(task.TaskID, task)
	if err != nil {
		n.end(task.TaskID, ErrTypeEnDecode, -1)
		return
	}

	host := task.Host
	if host == "" {
		host = n.cfg.LongLinkHost
	}
	ips := n.Resolve(host)

	ctx, cancel := context.WithTimeout(ctx, task.Timeout)
	defer cancel()

	n.setShort(LinkConnecting)

	var (
		errType = ErrTypeDial
		errCode = -1
	)
	for _, ip := range ips {
		body, status, err := n.post(ctx, ip, task, buf)
		if err != nil {
			n.logger.Debug("short link attempt failed", zap.String("ip", ip), zap.Error(err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		n.setShort(LinkConnected)
		if status != http.StatusOK {
			n.end(task.TaskID, ErrTypeHTTP, status)
			return
		}
		if err := n.cb.Buf2Resp(task.TaskID, task, body); err != nil {
			n.end(task.TaskID, ErrTypeEnDecode, -1)
			return
		}
		n.end(task.TaskID, ErrTypeOK, 0)
		return
	}

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		errType, errCode = ErrTypeLocal, CodeTimeout
	case ctx.Err() != nil:
		errType, errCode = ErrTypeLocal, CodeCanceled
	}
	n.setShort(LinkServerFailed)
	n.end(task.TaskID, errType, errCode)
}

func (n *Network) post(ctx context.Context, ip string, task Task, buf []byte) ([]byte, int, error) {
	url := fmt.Sprintf("http://%s%s", net.JoinHostPort(ip, strconv.Itoa(n.cfg.ShortLinkPort)), task.CGI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, 0, err
	}
	req.Host = task.Host
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(HeaderCmd, strconv.FormatUint(uint64(task.CmdID), 10))
	req.Header.Set(HeaderTask, strconv.FormatUint(uint64(task.TaskID), 10))
	req.Header.Set(HeaderClientVersion, strconv.Itoa(n.cfg.ClientVersion))

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return nil, 0, err
	}
	n.metrics.FramesOut.WithLabelValues(component).Inc()
	return body, resp.StatusCode, nil
}
