package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dubstudio/pkg/model"
)

const prose = `<p>The night was loud. "I don't know what to do," said Rahul, staring at the floor.</p>
<p>Priya laughed. "Really? You always know."</p>
<p>Meera whispered, "We should leave before the storm."</p>`

func TestQuotes(t *testing.T) {
	p := NewParser(DefaultOptions())
	quotes := p.Quotes(prose)
	require.Len(t, quotes, 2)
	assert.Equal(t, "Rahul", quotes[0].Speaker)
	assert.Equal(t, "Meera", quotes[1].Speaker)
}

func TestAttribute_RewritesNarratorLines(t *testing.T) {
	p := NewParser(DefaultOptions())
	segs := p.Parse("Narrator: I don't know what to do.\n\nWe should leave before the storm.\n\n(She looks away.)\n\nPriya: Really?")
	changed := p.Attribute(segs, prose)

	assert.Equal(t, 2, changed)
	assert.Equal(t, "Rahul", segs[0].Speaker())
	assert.Equal(t, model.KindDialogue, segs[1].Kind())
	assert.Equal(t, "Meera", segs[1].Speaker())
	// stage directions and named speakers are left alone
	assert.Equal(t, model.KindNarration, segs[2].Kind())
	assert.Equal(t, "Priya", segs[3].Speaker())
}

func TestAttribute_SkipsTimedScripts(t *testing.T) {
	p := NewParser(DefaultOptions())
	segs := p.Parse("[00:01] Narrator: I don't know what to do.")
	assert.Equal(t, 0, p.Attribute(segs, prose))
	assert.Equal(t, "Narrator", segs[0].Speaker())
}

func TestPlainText(t *testing.T) {
	got := PlainText("<html><head><title>x</title></head><body><p>Hello <b>there</b></p><script>var a;</script><div>Bye</div></body></html>")
	assert.Equal(t, "Hello there\nBye", got)
	assert.Equal(t, "no markup", PlainText("no markup"))
}

func TestFold(t *testing.T) {
	assert.Equal(t, "zoe", Fold("Zoë"))
	assert.Equal(t, []string{"don't", "stop"}, FoldWords("Don't STOP!"))
}
