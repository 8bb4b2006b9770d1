package lbltools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLabelConfig(t *testing.T) {
	cfg, err := ParseLabelConfig(`
		<View><Text name="meta_info" value="$meta_info"></Text>
		  <Text name="text" value=" $text "></Text>
		  <Choices name="text_class" choice="single" toName="text">
		    <Choice value="class_A"></Choice>
		    <Choice value="class_B" background="red"></Choice>
		  </Choices>
		</View>`)
	require.NoError(t, err)
	require.Contains(t, cfg, "text_class")

	c := cfg["text_class"]
	assert.Equal(t, "Choices", c.Type)
	assert.Equal(t, []string{"text"}, c.ToName)
	assert.Equal(t, []string{"class_A", "class_B"}, c.Labels)
	assert.Equal(t, "red", c.LabelAttrs["class_B"]["background"])
	assert.Len(t, cfg, 1)
}

func TestParseLabelConfigInputs(t *testing.T) {
	cfg, err := ParseLabelConfig(`
		<View>
		  <Labels name="videoLabels" toName="video">
		    <Label value="Car"/>
		    <Label value="Person"/>
		  </Labels>
		  <Video name="video" value="$video"/>
		</View>`)
	require.NoError(t, err)
	assert.Equal(t, []ObjectTag{{Type: "Video", Value: "video"}}, cfg["videoLabels"].Inputs)
}

func TestParseLabelConfigInvalid(t *testing.T) {
	_, err := ParseLabelConfig(`<View><Labels name="x" toName="y"></View>`)
	assert.Error(t, err)
}

func TestIsVideoObjectTracking(t *testing.T) {
	cfg, err := ParseLabelConfig(`
		<View>
		  <Labels name="videoLabels" toName="video">
		    <Label value="Car"/>
		    <Label value="Person"/>
		  </Labels>
		  <Video name="video" value="$video"/>
		  <VideoRectangle name="box" toName="video"/>
		</View>`)
	require.NoError(t, err)
	assert.True(t, IsVideoObjectTracking(cfg))
}

func TestIsVideoObjectTrackingNotVideo(t *testing.T) {
	cfg, err := ParseLabelConfig(`
		<View>
		  <Header value="Listen to the audio"/>
		  <Audio name="audio" value="$audio"/>
		  <Header value="Select its topic"/>
		  <Choices name="topic" toName="audio" choice="single-radio" showInline="true">
		    <Choice value="Politics"/>
		    <Choice value="Business"/>
		    <Choice value="Education"/>
		    <Choice value="Other"/>
		  </Choices>
		</View>`)
	require.NoError(t, err)
	assert.False(t, IsVideoObjectTracking(cfg))
	assert.Equal(t, []ObjectTag{{Type: "Audio", Value: "audio"}}, cfg["topic"].Inputs)
}

func TestParseLabelConfigValueWithSpaces(t *testing.T) {
	cfg, err := ParseLabelConfig(`
		<View>
		  <Text name="text" value=" $text "></Text>
		  <Choices name="c" toName="text"><Choice value="A"/></Choices>
		</View>`)
	require.NoError(t, err)
	assert.Equal(t, []ObjectTag{{Type: "Text", Value: "text"}}, cfg["c"].Inputs)
}
