package relay

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// Room names are one word from each group, in order:
// mood-critter-snack-thing, e.g. "cozy-otter-samosa-lantern".
var nameGroups = [4][]string{
	strings.Fields(`
		tiny happy sleepy fluffy sparkly cheery silly jolly cozy shiny
		golden silver crimson emerald purple bright gentle brave calm swift
		quiet bouncy fuzzy plucky merry peppy lucky sunny misty mellow`),
	strings.Fields(`
		kitten puppy bunny panda koala fox otter hedgehog squirrel hamster
		chick duckling fawn foal lamb calf raccoon beaver seahorse starfish
		dolphin whale narwhal penguin flamingo pelican sparrow robin toucan parrot`),
	strings.Fields(`
		pancake waffle sushi ramen curry taco burrito biryani paella risotto
		lasagna pizza dumpling noodle omelette quiche kebab shawarma fondue pierogi
		gnocchi falafel samosa poutine dimsum muffin cocoa toffee biscuit cupcake`),
	strings.Fields(`
		lantern puddle pebble cottage rocket comet orbit nebula canyon ridge
		meadow willow ember breeze marble maple thimble button sprout glimmer
		whisker bubble pixel nugget crumb twig sunbeam stardust echo poppy`),
}

// roomName draws a name nobody in taken is using.
func roomName(taken map[string]*Room) string {
	for {
		words := make([]string, len(nameGroups))
		for i, group := range nameGroups {
			words[i] = group[randomIndex(len(group))]
		}
		if name := strings.Join(words, "-"); taken[name] == nil {
			return name
		}
	}
}

// randomIndex returns a uniform index in [0, n) from crypto/rand.
func randomIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return int(v.Int64())
}
