package cryptohook

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractField_CDATA(t *testing.T) {
	xml := `<xml><MsgType><![CDATA[text]]></MsgType><Content><![CDATA[hello <world>]]></Content></xml>`
	assert.Equal(t, "text", extractField(xml, "MsgType"))
	assert.Equal(t, "hello <world>", extractField(xml, "Content"))
}

func TestExtractField_Plain(t *testing.T) {
	xml := `<xml><MsgId>123456</MsgId><FromUserName>u1</FromUserName></xml>`
	assert.Equal(t, "123456", extractField(xml, "MsgId"))
	assert.Equal(t, "u1", extractField(xml, "FromUserName"))
}

func TestExtractField_Missing(t *testing.T) {
	assert.Equal(t, "", extractField("<xml></xml>", "Content"))
}

func TestExtractField_Multiline(t *testing.T) {
	xml := "<xml><Content><![CDATA[line one\nline two]]></Content></xml>"
	assert.Equal(t, "line one\nline two", extractField(xml, "Content"))
}

func TestExtractField_ConcurrentRequests(t *testing.T) {
	// Every element name the request path touches, extracted from
	// parallel goroutines the way simultaneous callbacks would.
	xml := `<xml><Encrypt><![CDATA[payload]]></Encrypt><MsgType>text</MsgType><Content>hi</Content><FromUserName>u1</FromUserName><MsgId>1</MsgId></xml>`

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.Equal(t, "payload", extractField(xml, "Encrypt"))
				assert.Equal(t, "text", extractField(xml, "MsgType"))
				assert.Equal(t, "", extractField(xml, "ToUserName"))
			}
		}()
	}
	wg.Wait()
}

func TestParseEvent(t *testing.T) {
	xml := []byte(`<xml>
  <ToUserName><![CDATA[corp1]]></ToUserName>
  <FromUserName><![CDATA[u1]]></FromUserName>
  <CreateTime>1700000000</CreateTime>
  <MsgType><![CDATA[text]]></MsgType>
  <Content><![CDATA[hello]]></Content>
  <MsgId>7777</MsgId>
</xml>`)

	ev := parseEvent(xml)
	assert.Equal(t, "text", ev.MsgType)
	assert.Equal(t, "hello", ev.Content)
	assert.Equal(t, "u1", ev.FromUserName)
	assert.Equal(t, "7777", ev.MsgID)
}
