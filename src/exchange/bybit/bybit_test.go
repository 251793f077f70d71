package bybit

import (
	"testing"
)

func TestInterval(t *testing.T) {
	for tf, want := range map[string]string{"1m": "1", "5m": "5", "1h": "60", "4h": "240", "1d": "D"} {
		got, err := Interval(tf)
		if err != nil || got != want {
			t.Errorf("%s: got %q, %v", tf, got, err)
		}
	}
	if _, err := Interval("30s"); err == nil {
		t.Error("expected error for sub-minute timeframe")
	}
}

func TestDecodeMessage(t *testing.T) {
	push := []byte(`{"topic":"kline.5.BTCUSDT","type":"snapshot","ts":1672324988882,"data":[{"start":1672324800000,"end":1672325099999,"interval":"5","open":"16649.5","close":"16677","high":"16677","low":"16608","volume":"2.081","turnover":"34666.4005","confirm":false,"timestamp":1672324988882}]}`)
	ticks, pong, err := DecodeMessage(push)
	if err != nil || pong || len(ticks) != 1 {
		t.Fatalf("decode: %v %v %v", ticks, pong, err)
	}
	if tk := ticks[0]; tk.Time != 1672324800000 || tk.Open != 16649.5 || tk.Close != 16677 || tk.Final {
		t.Fatalf("tick = %+v", tk)
	}

	_, pong, err = DecodeMessage([]byte(`{"success":true,"ret_msg":"pong","conn_id":"x","op":"ping"}`))
	if err != nil || !pong {
		t.Fatalf("pong not detected: %v", err)
	}
	if _, _, err := DecodeMessage([]byte(`{"success":false,"ret_msg":"invalid topic","op":"subscribe"}`)); err == nil {
		t.Fatal("expected error for failed subscribe")
	}
	if ticks, _, err := DecodeMessage([]byte(`{"success":true,"ret_msg":"","op":"subscribe"}`)); err != nil || len(ticks) != 0 {
		t.Fatalf("subscribe ack: %v %v", ticks, err)
	}
}

func TestDecodeKlinesReversesOrder(t *testing.T) {
	body := []byte(`{"retCode":0,"retMsg":"OK","result":{"category":"spot","symbol":"BTCUSDT","list":[["120000","2","3","1","2.5","7","1"],["60000","1","2","0.5","2","5","1"]]}}`)
	got, err := DecodeKlines(body, 60_000, 150_000)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].OpenTime != 60_000 || got[1].OpenTime != 120_000 {
		t.Fatalf("order wrong: %+v", got)
	}
	if !got[0].Closed || got[1].Closed {
		t.Fatalf("closed flags wrong: %+v", got)
	}

	if _, err := DecodeKlines([]byte(`{"retCode":10001,"retMsg":"bad symbol"}`), 60_000, 0); err == nil {
		t.Fatal("expected error for retCode")
	}
}
