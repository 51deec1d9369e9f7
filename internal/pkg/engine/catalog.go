package engine

import "github.com/ManuelReschke/GhostRelay/app/models"

type phrase struct {
	key   string
	reply string
}

// catalog holds the fixed replies of one language mode. Lookup tables are
// ordered slices, the first matching key wins.
type catalog struct {
	predefined    []phrase
	helpKeywords  []string
	helpReply     string
	learnedSuffix string
	templates     map[Intent][]string
	fallbacks     []string
}

var banglish = catalog{
	predefined: []phrase{
		{"hello", "হ্যালো! কেমন আছেন? 😊"},
		{"hi", "হাই! ভালো আছি, আপনি? 💝"},
		{"hola", "ওহে! কী খবর? ✨"},
		{"hey", "হেই! কেমন চলছে? 🎯"},
		{"সালাম", "ওয়ালাইকুম আসসালাম! কেমন আছেন? 🤲"},
		{"হ্যালো", "হ্যালো! ভালো আছি, আপনিও ভালো থাকুন 🌟"},
		{"কেমন আছ", "আলহামদুলিল্লাহ ভালো আছি! আপনি কেমন আছেন? 😊"},
		{"খবর কি", "সব ভালো! আপনার কী খবর? 💫"},
		{"কি কর", "আপনার সাথে চ্যাট করছি! 😄"},
		{"ভাই", "জি বলুন ভাই, কীভাবে সাহায্য করতে পারি? 🛠️"},
		{"আপু", "জি আপু, কী করতে হবে? 💖"},
		{"বন্ধু", "হ্যালো বন্ধু! কেমন আছ? 👋"},
	},
	helpKeywords:  []string{"help", "হেল্প", "সাহায্য", "জানি না", "কিভাবে"},
	helpReply:     "কীভাবে সাহায্য করতে পারি? বিস্তারিত বলুন। 🤔",
	learnedSuffix: "... আরও বলুন।",
	templates: map[Intent][]string{
		IntentGreeting: {
			"হ্যালো {name}! কেমন আছেন?",
			"এই তো আছি, আপনার কী খবর?",
			"সালাম {name}, বলুন কী অবস্থা?",
		},
		IntentQuestion: {
			"ভালো প্রশ্ন, একটু ভেবে জানাচ্ছি।",
			"{name}, এটা নিয়ে একটু পরে বিস্তারিত বলছি।",
			"হুম, আপনি নিজে কী মনে করেন?",
		},
		IntentRequest: {
			"ঠিক আছে, দেখছি কী করা যায়।",
			"জি {name}, চেষ্টা করছি।",
			"বুঝেছি, একটু সময় দিন।",
		},
		IntentComplaint: {
			"দুঃখিত শুনে, সমস্যাটা একটু খুলে বলবেন?",
			"চিন্তা করবেন না {name}, ঠিক হয়ে যাবে।",
			"বুঝতে পারছি, কোথায় সমস্যা হচ্ছে বলুন।",
		},
		IntentGeneral: {
			"জি বলুন, আমি শুনছি।",
			"আচ্ছা, তারপর?",
			"হুম, বুঝলাম {name}।",
		},
	},
	fallbacks: []string{
		"দুঃখিত, বুঝতে পারিনি। আবার বলুন। 🤔",
		"কী বললেন? একটু ক্লিয়ার বলবেন? 💭",
		"একটু অন্যভাবে বলুন দেখি। ✨",
		"আমি এখনো শিখছি, সহজ ভাষায় বলুন। 📚",
		"একটু বিশদভাবে বলুন কী চান। 💫",
	},
}

var english = catalog{
	predefined: []phrase{
		{"hello", "Hello! How are you? 😊"},
		{"hi", "Hi! I'm good, and you? 💝"},
		{"hola", "Hey there! What's new? ✨"},
		{"hey", "Hey! How is it going? 🎯"},
		{"সালাম", "Wa alaikum assalam! How are you? 🤲"},
		{"হ্যালো", "Hello! I'm fine, hope you are too 🌟"},
		{"কেমন আছ", "Alhamdulillah, I'm fine! How about you? 😊"},
		{"খবর কি", "All good! What's up with you? 💫"},
		{"কি কর", "Chatting with you! 😄"},
		{"ভাই", "Yes brother, how can I help? 🛠️"},
		{"আপু", "Yes sister, what do you need? 💖"},
		{"বন্ধু", "Hello friend! How are you? 👋"},
	},
	helpKeywords:  []string{"help", "হেল্প", "সাহায্য", "জানি না", "কিভাবে"},
	helpReply:     "How can I help? Tell me the details. 🤔",
	learnedSuffix: "... tell me more.",
	templates: map[Intent][]string{
		IntentGreeting: {
			"Hello {name}! How are you?",
			"I'm here, what's new with you?",
			"Hey {name}, how is everything?",
		},
		IntentQuestion: {
			"Good question, let me think about it.",
			"{name}, I'll get back to you on that.",
			"Hmm, what do you think yourself?",
		},
		IntentRequest: {
			"Okay, let me see what I can do.",
			"Sure {name}, I'll try.",
			"Got it, give me a moment.",
		},
		IntentComplaint: {
			"Sorry to hear that, can you describe the problem?",
			"Don't worry {name}, we'll sort it out.",
			"I understand, tell me where it goes wrong.",
		},
		IntentGeneral: {
			"Go on, I'm listening.",
			"Okay, and then?",
			"Hmm, I see {name}.",
		},
	},
	fallbacks: []string{
		"Sorry, I didn't get that. Please say it again. 🤔",
		"What did you say? Could you be clearer? 💭",
		"Try saying it another way. ✨",
		"I'm still learning, please keep it simple. 📚",
		"Tell me a bit more about what you need. 💫",
	},
}

func catalogFor(language string) *catalog {
	if language == models.LanguageEnglish {
		return &english
	}
	return &banglish
}
