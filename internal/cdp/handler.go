package cdp

import (
	"context"
	"time"

	"github.com/mafredri/cdp/protocol/fetch"

	cdpadapter "shopharness/internal/adapter/cdp"
	"shopharness/pkg/traffic"
)

// consume 持续接收拦截事件并逐个分发处理
func (p *Page) consume(rp fetch.RequestPausedClient) {
	defer p.wg.Done()
	defer rp.Close()

	p.log.Debug("开始消费拦截事件流")
	for {
		ev, err := rp.Recv()
		if err != nil {
			if p.ctx.Err() == nil {
				p.log.Err(err, "接收拦截事件失败")
			}
			return
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.handle(ev)
		}()
	}
}

// handle 处理一次拦截事件，每个请求恰好应答一次
func (p *Page) handle(ev *fetch.RequestPausedReply) {
	ctx, cancel := context.WithTimeout(p.ctx, p.mgr.opts.ProcessTimeout)
	defer cancel()
	start := time.Now()

	hook := p.interceptor()
	if hook == nil {
		p.log.Debug("未绑定拦截钩子，阻止请求", "url", ev.Request.URL)
		p.failRequest(ev)
		return
	}

	req := cdpadapter.ToNeutralRequest(ev)
	dec := hook.Intercept(req)

	var err error
	switch dec.Action {
	case traffic.ActionFulfill:
		err = p.client.Fetch.FulfillRequest(ctx, cdpadapter.ToFulfillArgs(ev.RequestID, dec.Response))
	case traffic.ActionContinue:
		err = p.client.Fetch.ContinueRequest(ctx, &fetch.ContinueRequestArgs{RequestID: ev.RequestID})
	default:
		err = p.client.Fetch.FailRequest(ctx, cdpadapter.ToFailArgs(ev.RequestID))
	}
	if err != nil {
		p.log.Err(err, "应答拦截请求失败，改为阻止", "url", ev.Request.URL, "action", dec.Action.String())
		p.failRequest(ev)
		return
	}
	p.log.Debug("拦截事件处理完成", "url", ev.Request.URL, "action", dec.Action.String(), "duration", time.Since(start))
}

// failRequest 降级处理：阻止请求，避免请求悬挂
func (p *Page) failRequest(ev *fetch.RequestPausedReply) {
	if p.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(p.ctx, time.Second)
	defer cancel()
	if err := p.client.Fetch.FailRequest(ctx, cdpadapter.ToFailArgs(ev.RequestID)); err != nil {
		p.log.Warn("降级阻止请求失败", "url", ev.Request.URL, "error", err)
	}
}
